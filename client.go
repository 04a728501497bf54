// Package warlogix is the root client package: a concurrency-safe EtherNet/IP
// tag access client layering read/write, batch, discovery, subscription, and
// health operations over the connmgr/dispatch/session stack.
//
// One Client serves every endpoint a caller names; operations run against
// whichever endpoint is passed in, rather than one connection held for the
// Client's lifetime, so there is no separate per-endpoint construction step.
package warlogix

import (
	"context"
	"errors"
	"sync"
	"time"

	"warlogix/batch"
	"warlogix/connmgr"
	"warlogix/plcerr"
	"warlogix/subscribe"
	"warlogix/tagdir"
	"warlogix/value"
)

// Write pairs a tag path with the native value to write, for WriteMany.
type Write struct {
	Tag   string
	Value interface{}
}

// BatchOp is one entry in an ExecuteBatch call: a read when Value is nil, a
// write otherwise.
type BatchOp struct {
	Tag   string
	Value interface{} // nil for a read
}

// Health reports one endpoint's pooled-session status, for the health()
// operation.
type Health struct {
	Endpoint string
	Healthy  bool
	LastOK   time.Time
	InFlight bool
}

// Option configures a Client at construction.
type Option func(*Client)

// WithConnmgrOptions passes through connmgr.Option values (pool capacity,
// health sweep interval, session keep-alive/backoff settings).
func WithConnmgrOptions(opts ...connmgr.Option) Option {
	return func(c *Client) { c.connmgrOpts = opts }
}

// WithBatchConfig sets the default batch.Config applied to read_many,
// write_many, execute_batch, and subscribe polls. ConfigureBatch overrides it
// per endpoint for read_many/write_many/execute_batch; subscribe polls always
// use this default.
func WithBatchConfig(cfg batch.Config) Option {
	return func(c *Client) { c.batchCfg = cfg }
}

// WithSubscribeOptions passes through subscribe.Option values (queue size,
// max reconnect attempts).
func WithSubscribeOptions(opts ...subscribe.Option) Option {
	return func(c *Client) { c.subscribeOpts = opts }
}

// Client is the public EtherNet/IP tag access surface. A single Client may
// be shared across goroutines and across any number of endpoints; it holds
// no state specific to one controller beyond what Manager already pools.
type Client struct {
	connmgrOpts   []connmgr.Option
	subscribeOpts []subscribe.Option
	batchCfg      batch.Config

	mgr *connmgr.Manager
	sub *subscribe.Engine

	mu          sync.Mutex
	perEndpoint map[string]batch.Config
}

// New creates a Client. Call Close when done to tear down every pooled
// session and the subscription engine.
func New(opts ...Option) *Client {
	c := &Client{
		batchCfg:    batch.DefaultConfig(),
		perEndpoint: make(map[string]batch.Config),
	}
	for _, o := range opts {
		o(c)
	}
	c.mgr = connmgr.NewManager(c.connmgrOpts...)
	subOpts := append([]subscribe.Option{subscribe.WithBatchConfig(c.batchCfg)}, c.subscribeOpts...)
	c.sub = subscribe.NewEngine(context.Background(), c.mgr, subOpts...)
	return c
}

// Close stops every pooled session and the subscription engine. The Client
// must not be used afterward.
func (c *Client) Close() {
	c.sub.Close()
	c.mgr.Close()
}

func (c *Client) batchConfigFor(endpoint string) batch.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := c.perEndpoint[endpoint]; ok {
		return cfg
	}
	return c.batchCfg
}

// ConfigureBatch overrides the batch packing configuration used for
// read_many/write_many/execute_batch calls against endpoint.
func (c *Client) ConfigureBatch(endpoint string, cfg batch.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perEndpoint[endpoint] = cfg
}

// Connect eagerly acquires a session against endpoint, surfacing a
// Timeout/Refused/Protocol error up front rather than on the first
// operation. The endpoint string itself is the session id every other
// method takes; there is no separate handle to track.
func (c *Client) Connect(ctx context.Context, endpoint string) (string, error) {
	_, _, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return "", err
	}
	return endpoint, nil
}

// Disconnect tears down the pooled sessions for endpoint. Subscriptions still
// registered against it are not dropped: their next poll's Acquire opens a
// new pool for endpoint.
func (c *Client) Disconnect(endpoint string) {
	c.mgr.Disconnect(endpoint)
}

// Read performs a direct (non-batched) read of one tag.
func (c *Client) Read(ctx context.Context, endpoint, tagPath string) (value.Value, error) {
	disp, cache, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return value.Value{}, err
	}
	v, err := singleRead(ctx, disp, cache, tagPath)
	invalidateOnErr(c.mgr, endpoint, err)
	return v, err
}

// Write performs a direct (non-batched) write of one tag, inferring the wire
// type from native's own Go type.
func (c *Client) Write(ctx context.Context, endpoint, tagPath string, native interface{}) error {
	disp, cache, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return err
	}
	err = singleWrite(ctx, disp, cache, tagPath, native)
	invalidateOnErr(c.mgr, endpoint, err)
	return err
}

// invalidateOnErr drops endpoint's cached tag directory when err carries a
// CIP status the symbol table may have changed under, a no-op for any other
// error (transport failures, decode errors, or success).
func invalidateOnErr(mgr *connmgr.Manager, endpoint string, err error) {
	var pe *plcerr.Error
	if !errors.As(err, &pe) || pe.CIPStatus == nil {
		return
	}
	mgr.InvalidateOnCIPStatus(endpoint, *pe.CIPStatus)
}

// ReadMany reads several tags in as few Multiple Service Packets as cfg
// allows, resolving each tag's descriptor from the endpoint's tag directory
// first.
func (c *Client) ReadMany(ctx context.Context, endpoint string, tagPaths []string) ([]batch.Result, error) {
	disp, cache, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	ops := make([]batch.Op, len(tagPaths))
	for i, tag := range tagPaths {
		desc, err := resolveDescriptor(ctx, cache, disp, tag)
		if err != nil {
			return nil, err
		}
		ops[i] = batch.Op{Tag: tag, Desc: desc}
	}

	return batch.Execute(ctx, disp, ops, c.batchConfigFor(endpoint))
}

// WriteMany writes several tags in as few Multiple Service Packets as cfg
// allows, inferring each write's wire type from its native Go value.
func (c *Client) WriteMany(ctx context.Context, endpoint string, writes []Write) ([]batch.Result, error) {
	disp, _, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	ops := make([]batch.Op, len(writes))
	for i, w := range writes {
		v, desc, err := nativeToValue("write_many", w.Tag, w.Value)
		if err != nil {
			return nil, err
		}
		ops[i] = batch.Op{Tag: w.Tag, Value: &v, Desc: desc}
	}

	return batch.Execute(ctx, disp, ops, c.batchConfigFor(endpoint))
}

// ExecuteBatch runs a mixed sequence of reads and writes within as few
// packets as cfg allows, returning results in submission order. With
// OptimizePacketPacking set (the default), reads are sent ahead of writes.
func (c *Client) ExecuteBatch(ctx context.Context, endpoint string, batchOps []BatchOp) ([]batch.Result, error) {
	disp, cache, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	ops := make([]batch.Op, len(batchOps))
	for i, b := range batchOps {
		if b.Value == nil {
			desc, err := resolveDescriptor(ctx, cache, disp, b.Tag)
			if err != nil {
				return nil, err
			}
			ops[i] = batch.Op{Tag: b.Tag, Desc: desc}
			continue
		}
		v, desc, err := nativeToValue("execute_batch", b.Tag, b.Value)
		if err != nil {
			return nil, err
		}
		ops[i] = batch.Op{Tag: b.Tag, Value: &v, Desc: desc}
	}

	return batch.Execute(ctx, disp, ops, c.batchConfigFor(endpoint))
}

// DiscoverTags enumerates every readable tag in the controller's scope and
// every program's scope.
func (c *Client) DiscoverTags(ctx context.Context, endpoint string) ([]tagdir.Entry, error) {
	disp, cache, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	controllerEntries, err := cache.Entries(ctx, disp, "")
	if err != nil {
		return nil, err
	}

	var out []tagdir.Entry
	var programs []string
	for _, e := range controllerEntries {
		if e.IsProgram() {
			programs = append(programs, e.Name)
			continue
		}
		if e.IsReadable() {
			out = append(out, e)
		}
	}

	for _, prog := range programs {
		progEntries, err := cache.Entries(ctx, disp, prog)
		if err != nil {
			return nil, err
		}
		for _, e := range progEntries {
			if e.IsReadable() {
				out = append(out, e)
			}
		}
	}

	return out, nil
}

// GetMetadata resolves tagPath's descriptor (type, dimensions, UDT layout)
// from the endpoint's tag directory without reading its value.
func (c *Client) GetMetadata(ctx context.Context, endpoint, tagPath string) (value.Descriptor, error) {
	disp, cache, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return value.Descriptor{}, err
	}
	return resolveDescriptor(ctx, cache, disp, tagPath)
}

// Subscribe registers a periodic poll of tagPath against endpoint, emitting
// change events on the returned Subscription until Unsubscribe is called.
func (c *Client) Subscribe(ctx context.Context, endpoint, tagPath string, period time.Duration) (*subscribe.Subscription, error) {
	disp, cache, err := c.mgr.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	desc, err := resolveDescriptor(ctx, cache, disp, tagPath)
	if err != nil {
		return nil, err
	}
	return c.sub.Subscribe(endpoint, tagPath, desc, period), nil
}

// Unsubscribe drops a subscription and closes its event channel.
func (c *Client) Unsubscribe(subscriptionID string) {
	c.sub.Unsubscribe(subscriptionID)
}

// HealthOf reports the pooled-session status for endpoint, one entry per
// open session (normally one, since Manager pools are capacity-bounded).
// An empty result means no pool is open for endpoint: none has been
// acquired yet, or Disconnect has torn it down.
func (c *Client) HealthOf(endpoint string) []Health {
	sessions := c.mgr.Health(endpoint)
	out := make([]Health, len(sessions))
	for i, s := range sessions {
		out[i] = Health{
			Endpoint: s.Endpoint,
			Healthy:  s.Err == nil,
			LastOK:   s.LastOK,
			InFlight: s.InFlight,
		}
	}
	return out
}
