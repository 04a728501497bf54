// Package config handles configuration persistence for the warlogix client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Config holds the complete client configuration: the set of controller
// endpoints to reach, the batch planner defaults, and the optional
// subscription sinks that tag changes fan out to.
type Config struct {
	Namespace string         `yaml:"namespace"` // instance namespace for sink topic/key isolation
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Batch     BatchConfig    `yaml:"batch,omitempty"`
	PollRate  time.Duration  `yaml:"poll_rate"`
	MQTT      []MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey    []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig  `yaml:"kafka,omitempty"`
	Triggers  []TriggerConfig `yaml:"triggers,omitempty"`

	// Deprecated: superseded by Web-free health endpoint exposed by cmd/warlogix.
	// Kept only so older config files still parse; Load clears an enabled block.
	REST RESTConfig `yaml:"rest,omitempty"`

	// dataMu protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call UnlockAndSave().
	// Save() acquires the lock internally for callers that don't hold it.
	dataMu sync.Mutex `yaml:"-"`

	// Change listeners (not serialized)
	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                `yaml:"-"`
	listenerCounter uint64                      `yaml:"-"`
}

// EndpointConfig stores configuration for a single EtherNet/IP controller.
type EndpointConfig struct {
	Name               string        `yaml:"name"`
	Address            string        `yaml:"address"`
	Slot               byte          `yaml:"slot"`
	Enabled            bool          `yaml:"enabled"`
	DiscoverTags       *bool         `yaml:"discover_tags,omitempty"`        // auto-discover tags on connect (default true)
	HealthCheckEnabled *bool         `yaml:"health_check_enabled,omitempty"` // publish endpoint health (default true)
	PollRate           time.Duration `yaml:"poll_rate,omitempty"`            // per-endpoint poll rate (0 = use global)
	Timeout            time.Duration `yaml:"timeout,omitempty"`              // connect/operation timeout (0 = session default)
	Tags               []TagSelection `yaml:"tags,omitempty"`
}

// SupportsDiscovery reports whether tag discovery is enabled for this endpoint.
func (e *EndpointConfig) SupportsDiscovery() bool {
	if e.DiscoverTags != nil {
		return *e.DiscoverTags
	}
	return true
}

// IsHealthCheckEnabled returns whether health check publishing is enabled (defaults to true).
func (e *EndpointConfig) IsHealthCheckEnabled() bool {
	if e.HealthCheckEnabled == nil {
		return true
	}
	return *e.HealthCheckEnabled
}

// BatchConfig controls the Multiple Service Packet planner defaults.
type BatchConfig struct {
	Preset               string `yaml:"preset,omitempty"` // "high_performance", "conservative", or "" for explicit fields
	MaxOpsPerPacket       int    `yaml:"max_ops_per_packet,omitempty"`
	MaxPacketSize         int    `yaml:"max_packet_size,omitempty"`
	TimeoutMS             int    `yaml:"timeout_ms,omitempty"`
	ContinueOnError       bool   `yaml:"continue_on_error,omitempty"`
	OptimizePacketPacking bool   `yaml:"optimize_packet_packing,omitempty"`
}

// TagSelection represents a tag selected for polling/subscription.
type TagSelection struct {
	Name          string   `yaml:"name"`
	Alias         string   `yaml:"alias,omitempty"`
	DataType      string   `yaml:"data_type,omitempty"` // manual type override: BOOL, INT, DINT, REAL, etc.
	Enabled       bool     `yaml:"enabled"`
	Writable      bool     `yaml:"writable,omitempty"`
	IgnoreChanges []string `yaml:"ignore_changes,omitempty"` // UDT member names to ignore for change detection
	NoMQTT        bool     `yaml:"no_mqtt,omitempty"`
	NoKafka       bool     `yaml:"no_kafka,omitempty"`
	NoValkey      bool     `yaml:"no_valkey,omitempty"`
}

// PublishesToAny returns true if the tag publishes to at least one sink.
func (t *TagSelection) PublishesToAny() bool {
	return !t.NoMQTT || !t.NoKafka || !t.NoValkey
}

// GetEnabledServices returns a list of sink names this tag publishes to.
func (t *TagSelection) GetEnabledServices() []string {
	var services []string
	if !t.NoMQTT {
		services = append(services, "MQTT")
	}
	if !t.NoKafka {
		services = append(services, "Kafka")
	}
	if !t.NoValkey {
		services = append(services, "Valkey")
	}
	return services
}

// ShouldIgnoreMember returns true if the given member name is in the ignore list.
func (t *TagSelection) ShouldIgnoreMember(memberName string) bool {
	for _, ignored := range t.IgnoreChanges {
		if ignored == memberName {
			return true
		}
	}
	return false
}

// AddIgnoreMember adds a member name to the ignore list if not already present.
func (t *TagSelection) AddIgnoreMember(memberName string) {
	if !t.ShouldIgnoreMember(memberName) {
		t.IgnoreChanges = append(t.IgnoreChanges, memberName)
	}
}

// RemoveIgnoreMember removes a member name from the ignore list.
func (t *TagSelection) RemoveIgnoreMember(memberName string) {
	for i, ignored := range t.IgnoreChanges {
		if ignored == memberName {
			t.IgnoreChanges = append(t.IgnoreChanges[:i], t.IgnoreChanges[i+1:]...)
			return
		}
	}
}

// RESTConfig is retained only so legacy config files still parse.
type RESTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
}

// MQTTConfig holds MQTT sink configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis sink configuration.
type ValkeyConfig struct {
	Name            string        `yaml:"name"`
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"` // host:port format
	Password        string        `yaml:"password,omitempty"`
	Database        int           `yaml:"database"`
	Selector        string        `yaml:"selector,omitempty"`
	UseTLS          bool          `yaml:"use_tls,omitempty"`
	KeyTTL          time.Duration `yaml:"key_ttl,omitempty"`
	PublishChanges  bool          `yaml:"publish_changes,omitempty"`
	EnableWriteback bool          `yaml:"enable_writeback,omitempty"`
}

// KafkaConfig holds Kafka sink configuration for YAML persistence.
// The kafka sink has its own runtime config shape (kafka.Config); nothing in
// this module converts one into the other.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`

	PublishChanges   bool   `yaml:"publish_changes,omitempty"`
	Selector         string `yaml:"selector,omitempty"`
	AutoCreateTopics *bool  `yaml:"auto_create_topics,omitempty"`

	EnableWriteback bool          `yaml:"enable_writeback,omitempty"`
	ConsumerGroup   string        `yaml:"consumer_group,omitempty"` // default: warlogix-{name}-writers
	WriteMaxAge     time.Duration `yaml:"write_max_age,omitempty"`
}

// TriggerCondition defines the single value comparison that arms a trigger.
type TriggerCondition struct {
	Operator string      `yaml:"operator" json:"operator"` // ==, !=, >, <, >=, <=
	Value    interface{} `yaml:"value" json:"value"`
	Not      bool        `yaml:"not,omitempty" json:"not,omitempty"`
}

// TriggerConfig holds configuration for a tag-condition trigger. It is only
// persisted; no package in this module evaluates triggers.
type TriggerConfig struct {
	Name       string            `yaml:"name"`
	Enabled    bool              `yaml:"enabled"`
	PLC        string            `yaml:"plc"`
	TriggerTag string            `yaml:"trigger_tag"`
	Condition  TriggerCondition  `yaml:"condition"`
	DebounceMS int               `yaml:"debounce_ms,omitempty"`
	CooldownMS int               `yaml:"cooldown_ms,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoints: []EndpointConfig{},
		PollRate:  time.Second,
		Batch: BatchConfig{
			Preset: "high_performance",
		},
		MQTT:     []MQTTConfig{},
		Valkey:   []ValkeyConfig{},
		Kafka:    []KafkaConfig{},
		Triggers: []TriggerConfig{},
	}
}

// DefaultMQTTConfig returns a named MQTT sink config with sensible defaults.
func DefaultMQTTConfig(name string) MQTTConfig {
	return MQTTConfig{
		Name:   name,
		Broker: "localhost",
		Port:   1883,
	}
}

// DefaultValkeyConfig returns a named Valkey sink config with sensible defaults.
func DefaultValkeyConfig(name string) ValkeyConfig {
	return ValkeyConfig{
		Name:           name,
		Address:        "localhost:6379",
		PublishChanges: true,
	}
}

// DefaultKafkaConfig returns a named Kafka sink config with sensible defaults.
func DefaultKafkaConfig(name string) KafkaConfig {
	return KafkaConfig{
		Name:         name,
		Brokers:      []string{"localhost:9092"},
		RequiredAcks: -1,
	}
}

// DefaultTriggerConfig returns a named trigger config with sensible defaults.
func DefaultTriggerConfig(name string) TriggerConfig {
	return TriggerConfig{
		Name: name,
		Condition: TriggerCondition{
			Operator: "==",
		},
		DebounceMS: 100,
	}
}

// FindMQTT returns the MQTT config with the given name, or nil if not found.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// AddMQTT adds a new MQTT configuration.
func (c *Config) AddMQTT(mqtt MQTTConfig) {
	c.MQTT = append(c.MQTT, mqtt)
}

// RemoveMQTT removes an MQTT config by name.
func (c *Config) RemoveMQTT(name string) bool {
	for i, m := range c.MQTT {
		if m.Name == name {
			c.MQTT = append(c.MQTT[:i], c.MQTT[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateMQTT updates an existing MQTT configuration.
func (c *Config) UpdateMQTT(name string, updated MQTTConfig) bool {
	for i, m := range c.MQTT {
		if m.Name == name {
			c.MQTT[i] = updated
			return true
		}
	}
	return false
}

// FindValkey returns the Valkey config with the given name, or nil if not found.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// AddValkey adds a new Valkey configuration.
func (c *Config) AddValkey(valkey ValkeyConfig) {
	c.Valkey = append(c.Valkey, valkey)
}

// RemoveValkey removes a Valkey config by name.
func (c *Config) RemoveValkey(name string) bool {
	for i, v := range c.Valkey {
		if v.Name == name {
			c.Valkey = append(c.Valkey[:i], c.Valkey[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateValkey updates an existing Valkey configuration.
func (c *Config) UpdateValkey(name string, updated ValkeyConfig) bool {
	for i, v := range c.Valkey {
		if v.Name == name {
			c.Valkey[i] = updated
			return true
		}
	}
	return false
}

// DefaultPath returns the default configuration file path (~/.warlogix/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".warlogix", "config.yaml")
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	dirty := false

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// File doesn't exist - use defaults and write them out below.
		dirty = true
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Migrate legacy REST block: earlier releases exposed a REST toggle that
	// is now folded into the always-on /healthz endpoint; clear it so it
	// doesn't linger in saved files.
	if cfg.REST.Enabled {
		cfg.REST = RESTConfig{}
		dirty = true
	}

	if dirty {
		cfg.Save(path) // best-effort save
	}

	return cfg, nil
}

// AddOnChangeListener registers a callback to be called when the config is saved.
// Returns an ID that can be used to remove the listener later.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}

	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	delete(c.changeListeners, id)
}

// notifyChangeListeners calls all registered change listeners.
func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	// Call listeners outside the lock to avoid deadlocks
	for _, cb := range listeners {
		go cb() // run in goroutine to avoid blocking the saver
	}
}

// Lock acquires the config data mutex for exclusive access.
// Use this before modifying config fields, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
// Prefer UnlockAndSave when modifications were made.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies.
// Use this when the caller does not already hold the lock.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies.
// The caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

// saveLocked marshals config (lock must be held), unlocks, then writes and notifies.
func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock() // release lock after marshal, before I/O

	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}

// FindEndpoint returns the endpoint config with the given name, or nil if not found.
func (c *Config) FindEndpoint(name string) *EndpointConfig {
	for i := range c.Endpoints {
		if c.Endpoints[i].Name == name {
			return &c.Endpoints[i]
		}
	}
	return nil
}

// AddEndpoint adds a new endpoint configuration.
func (c *Config) AddEndpoint(ep EndpointConfig) {
	c.Endpoints = append(c.Endpoints, ep)
}

// RemoveEndpoint removes an endpoint by name.
func (c *Config) RemoveEndpoint(name string) bool {
	for i, ep := range c.Endpoints {
		if ep.Name == name {
			c.Endpoints = append(c.Endpoints[:i], c.Endpoints[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateEndpoint updates an existing endpoint configuration.
func (c *Config) UpdateEndpoint(name string, updated EndpointConfig) bool {
	for i, ep := range c.Endpoints {
		if ep.Name == name {
			c.Endpoints[i] = updated
			return true
		}
	}
	return false
}

// FindKafka returns the Kafka config with the given name, or nil if not found.
func (c *Config) FindKafka(name string) *KafkaConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}

// AddKafka adds a new Kafka configuration.
func (c *Config) AddKafka(kafka KafkaConfig) {
	c.Kafka = append(c.Kafka, kafka)
}

// RemoveKafka removes a Kafka config by name.
func (c *Config) RemoveKafka(name string) bool {
	for i, k := range c.Kafka {
		if k.Name == name {
			c.Kafka = append(c.Kafka[:i], c.Kafka[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateKafka updates an existing Kafka configuration.
func (c *Config) UpdateKafka(name string, updated KafkaConfig) bool {
	for i, k := range c.Kafka {
		if k.Name == name {
			c.Kafka[i] = updated
			return true
		}
	}
	return false
}

// FindTrigger returns the trigger config with the given name, or nil if not found.
func (c *Config) FindTrigger(name string) *TriggerConfig {
	for i := range c.Triggers {
		if c.Triggers[i].Name == name {
			return &c.Triggers[i]
		}
	}
	return nil
}

// AddTrigger adds a new trigger configuration.
func (c *Config) AddTrigger(trigger TriggerConfig) {
	c.Triggers = append(c.Triggers, trigger)
}

// RemoveTrigger removes a trigger config by name.
func (c *Config) RemoveTrigger(name string) bool {
	for i, tr := range c.Triggers {
		if tr.Name == name {
			c.Triggers = append(c.Triggers[:i], c.Triggers[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateTrigger updates an existing trigger configuration.
func (c *Config) UpdateTrigger(name string, updated TriggerConfig) bool {
	for i, tr := range c.Triggers {
		if tr.Name == name {
			c.Triggers[i] = updated
			return true
		}
	}
	return false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, underscores, and dots")
	}
	return nil
}

// IsValidNamespace returns true if the namespace is valid.
// Valid namespaces contain only alphanumeric characters, hyphens, underscores, and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
