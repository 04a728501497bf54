// Warlogix - EtherNet/IP tag access CLI and health endpoint.
//
// A trimmed command-line front end over the warlogix.Client library: connect
// to a controller, read/write/discover tags, or serve a /healthz endpoint for
// every enabled configured endpoint's pooled-session status.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"warlogix"
	"warlogix/batch"
	"warlogix/config"
	"warlogix/eip"
	"warlogix/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath   = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion  = flag.Bool("version", false, "Show version and exit")
	endpoint     = flag.String("endpoint", "", "Controller address (host:port), overrides the named config endpoint")
	endpointName = flag.String("name", "", "Named endpoint from the config file to use")

	readTag   = flag.String("read", "", "Read one tag and print its value")
	writeTag  = flag.String("write", "", "Write one tag, given as TAG=VALUE")
	discover  = flag.Bool("discover", false, "Discover and print every readable tag")
	subscribe = flag.String("subscribe", "", "Stream change events for one tag until interrupted")
	period    = flag.Duration("period", 0, "Poll period for -subscribe (default 100ms)")

	discoverControllers = flag.String("discover-controllers", "", "Broadcast ListIdentity to find controllers (e.g. 255.255.255.255) and print the replies")
	discoverTimeout     = flag.Duration("discover-timeout", 750*time.Millisecond, "How long -discover-controllers listens for replies")

	serve    = flag.Bool("serve", false, "Serve a /healthz endpoint instead of running a one-shot command")
	httpAddr = flag.String("http", ":8080", "Listen address for -serve")

	logFile  = flag.String("log", "", "Path to a debug log file (optional)")
	logDebug = flag.String("log-debug", "", "Enable debug logging for a protocol, or \"all\"")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("warlogix %s\n", Version)
		os.Exit(0)
	}

	if *discoverControllers != "" {
		runDiscoverControllers(*discoverControllers, *discoverTimeout)
		return
	}

	if *logFile != "" {
		dl, err := logging.NewDebugLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		if *logDebug != "" {
			dl.SetFilter(*logDebug)
		}
		logging.SetGlobalDebugLogger(dl)
		defer dl.Close()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	target, err := resolveEndpoint(cfg, *endpointName, *endpoint)
	if err != nil && !*serve {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := warlogix.New(warlogix.WithBatchConfig(batchConfigFor(cfg.Batch)))
	defer client.Close()

	if *serve {
		runServer(client, cfg)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case *readTag != "":
		runRead(ctx, client, target, *readTag)
	case *writeTag != "":
		runWrite(ctx, client, target, *writeTag)
	case *discover:
		runDiscover(ctx, client, target)
	case *subscribe != "":
		runSubscribe(client, target, *subscribe, *period)
	default:
		fmt.Fprintln(os.Stderr, "Nothing to do: pass one of -read, -write, -discover, -discover-controllers, -subscribe, or -serve")
		os.Exit(1)
	}
}

// resolveEndpoint prefers an explicit -endpoint flag, then a named config
// entry: flags always override config.
func resolveEndpoint(cfg *config.Config, name, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if name != "" {
		ep := cfg.FindEndpoint(name)
		if ep == nil {
			return "", fmt.Errorf("no endpoint named %q in config", name)
		}
		return ep.Address, nil
	}
	if len(cfg.Endpoints) == 1 {
		return cfg.Endpoints[0].Address, nil
	}
	return "", fmt.Errorf("no endpoint given: pass -endpoint, or -name when the config has more than one")
}

func batchConfigFor(cfg config.BatchConfig) batch.Config {
	var b batch.Config
	switch cfg.Preset {
	case "high_performance":
		b = batch.HighPerformancePreset()
	case "conservative":
		b = batch.ConservativePreset()
	default:
		b = batch.DefaultConfig()
	}
	if cfg.MaxOpsPerPacket > 0 {
		b.MaxOpsPerPacket = cfg.MaxOpsPerPacket
	}
	if cfg.MaxPacketSize > 0 {
		b.MaxPacketSize = cfg.MaxPacketSize
	}
	if cfg.TimeoutMS > 0 {
		b.PacketTimeoutMS = cfg.TimeoutMS
	}
	return b
}

func runRead(ctx context.Context, client *warlogix.Client, endpoint, tag string) {
	v, err := client.Read(ctx, endpoint, tag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", tag, err)
		os.Exit(1)
	}
	fmt.Printf("%s = %v (%s)\n", tag, v.Raw, v.Type)
}

func runWrite(ctx context.Context, client *warlogix.Client, endpoint, spec string) {
	tag, raw, ok := strings.Cut(spec, "=")
	if !ok {
		fmt.Fprintf(os.Stderr, "write: expected TAG=VALUE, got %q\n", spec)
		os.Exit(1)
	}
	native, err := parseNative(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", tag, err)
		os.Exit(1)
	}
	if err := client.Write(ctx, endpoint, tag, native); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", tag, err)
		os.Exit(1)
	}
	fmt.Printf("%s := %v\n", tag, native)
}

// parseNative guesses a Go native type from a command-line string: bool,
// int32, float32, falling back to string. Batch/single write both infer
// their wire type from this native value's own type (see native.go).
func parseNative(raw string) (interface{}, error) {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return int32(i), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return float32(f), nil
	}
	return raw, nil
}

// runDiscoverControllers is a network-level discovery aid distinct from
// runDiscover (tag discovery against one already-known controller): it
// broadcasts ListIdentity over UDP to find controllers on the network in the
// first place.
func runDiscoverControllers(broadcastIP string, timeout time.Duration) {
	ec := eip.NewEipClient("0.0.0.0")
	idents, err := ec.ListIdentityUDP(broadcastIP, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discover-controllers: %v\n", err)
		os.Exit(1)
	}
	if len(idents) == 0 {
		fmt.Println("no controllers responded")
		return
	}
	for _, id := range idents {
		fmt.Printf("%s:%d\tvendor=0x%04X\tproduct=0x%04X\trev=%d.%d\t%s\n",
			id.IP, id.Port, id.VendorID, id.ProductCode, id.RevisionMajor, id.RevisionMinor, id.ProductName)
	}
}

func runDiscover(ctx context.Context, client *warlogix.Client, endpoint string) {
	entries, err := client.DiscoverTags(ctx, endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discover: %v\n", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%v\n", e.Name, e.TypeCode)
	}
}

func runSubscribe(client *warlogix.Client, endpoint, tag string, period time.Duration) {
	sub, err := client.Subscribe(context.Background(), endpoint, tag, period)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscribe %s: %v\n", tag, err)
		os.Exit(1)
	}
	defer client.Unsubscribe(sub.ID())

	fmt.Printf("subscribed to %s on %s, press Ctrl-C to stop\n", tag, endpoint)
	for ev := range sub.Events() {
		if ev.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", tag, ev.Err)
			continue
		}
		fmt.Printf("[%s] %s = %v (seq %d)\n", ev.Timestamp.Format(time.RFC3339), tag, ev.New.Raw, ev.Sequence)
	}
}

// healthEntry is the JSON shape of one endpoint's /healthz entry.
type healthEntry struct {
	Endpoint string    `json:"endpoint"`
	Healthy  bool      `json:"healthy"`
	LastOK   time.Time `json:"last_ok,omitempty"`
	InFlight bool      `json:"in_flight"`
}

func runServer(client *warlogix.Client, cfg *config.Config) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		var out []healthEntry
		for _, ep := range cfg.Endpoints {
			if !ep.Enabled {
				continue
			}
			for _, h := range client.HealthOf(ep.Address) {
				out = append(out, healthEntry{
					Endpoint: h.Endpoint,
					Healthy:  h.Healthy,
					LastOK:   h.LastOK,
					InFlight: h.InFlight,
				})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	fmt.Printf("warlogix %s serving /healthz on %s\n", Version, *httpAddr)
	if err := http.ListenAndServe(*httpAddr, r); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
