// Command cloudlink-agent runs a reference CloudLink device agent.
//
// The agent resolves its node identity, claims cloud credentials when
// none are stored, connects a session, reports the node's device tree
// and listens for remote parameter updates. This reference binary runs
// against an in-process loopback broker and simulates local parameter
// changes, which makes it useful for exercising the full lifecycle
// without cloud infrastructure.
//
// Usage:
//
//	cloudlink-agent [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-state-dir string  Directory for persistent state (default "./state")
//	-claim-url string  Claim service base URL (loopback claiming if empty)
//	-time-sync         Require NTP time sync before connecting
//	-ntp-server string NTP server or pool hostname (default "pool.ntp.org")
//	-name string       Node name (default "Reference Switch")
//	-type string       Node type (default "Switch")
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-simulate          Simulate local parameter changes (default true)
//
// Examples:
//
//	# Run with defaults and verbose logging
//	cloudlink-agent -log-level debug
//
//	# Run with a config file and a real claim service
//	cloudlink-agent -config /etc/cloudlink/agent.yaml -claim-url https://claim.example.com
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cloudlink-iot/cloudlink-go/pkg/agent"
	"github.com/cloudlink-iot/cloudlink-go/pkg/claim"
	"github.com/cloudlink-iot/cloudlink-go/pkg/connectivity"
	"github.com/cloudlink-iot/cloudlink-go/pkg/node"
	"github.com/cloudlink-iot/cloudlink-go/pkg/session"
	"github.com/cloudlink-iot/cloudlink-go/pkg/storage"
	"github.com/cloudlink-iot/cloudlink-go/pkg/timesync"
)

var (
	configFile  string
	stateDir    string
	claimURL    string
	claimSecret string
	enableSync  bool
	ntpServer   string
	nodeName    string
	nodeType    string
	logLevel    string
	simulate    bool
	drainEvery  time.Duration
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&stateDir, "state-dir", "./state", "Directory for persistent state")
	flag.StringVar(&claimURL, "claim-url", "", "Claim service base URL (loopback claiming if empty)")
	flag.StringVar(&claimSecret, "claim-secret", "", "Device secret for claim proof")
	flag.BoolVar(&enableSync, "time-sync", false, "Require NTP time sync before connecting")
	flag.StringVar(&ntpServer, "ntp-server", "pool.ntp.org", "NTP server or pool hostname")
	flag.StringVar(&nodeName, "name", "Reference Switch", "Node name")
	flag.StringVar(&nodeType, "type", "Switch", "Node type")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&simulate, "simulate", true, "Simulate local parameter changes")
	flag.DurationVar(&drainEvery, "drain-interval", 0, "Work queue drain interval (0 for the default)")
}

func main() {
	flag.Parse()

	if configFile != "" {
		fileCfg, err := LoadFileConfig(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cloudlink-agent: %v\n", err)
			os.Exit(1)
		}
		applyFileConfig(fileCfg)
	}

	logger := newLogger(logLevel)
	logger.Info("CloudLink reference agent", "node", nodeName, "type", nodeType)

	if err := run(logger); err != nil {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
}

// applyFileConfig copies file values into flag variables that were not
// explicitly set on the command line.
func applyFileConfig(cfg *FileConfig) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["state-dir"] && cfg.StateDir != "" {
		stateDir = cfg.StateDir
	}
	if !set["claim-url"] && cfg.ClaimURL != "" {
		claimURL = cfg.ClaimURL
	}
	if !set["claim-secret"] && cfg.ClaimSecret != "" {
		claimSecret = cfg.ClaimSecret
	}
	if !set["time-sync"] && cfg.TimeSync {
		enableSync = cfg.TimeSync
	}
	if !set["ntp-server"] && cfg.NTPServer != "" {
		ntpServer = cfg.NTPServer
	}
	if !set["name"] && cfg.NodeName != "" {
		nodeName = cfg.NodeName
	}
	if !set["type"] && cfg.NodeType != "" {
		nodeType = cfg.NodeType
	}
	if !set["log-level"] && cfg.LogLevel != "" {
		logLevel = cfg.LogLevel
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.OpenFileStore(filepath.Join(stateDir, "agent.json"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	// Connectivity: the monitor latches the signal once a usable
	// network interface appears.
	online := connectivity.NewSignal()
	monitor := connectivity.NewMonitor(online, logger)
	go monitor.Run(ctx)

	broker := session.NewBroker()
	sess := broker.NewSession()

	config := &agent.Config{
		Store:         store,
		Session:       sess,
		Connectivity:  online,
		SelfClaim:     true,
		NewClaimer:    newClaimerFactory(store, logger),
		DrainInterval: drainEvery,
		Logger:        logger,
	}

	if enableSync {
		syncCfg := timesync.DefaultConfig()
		syncCfg.Server = ntpServer
		syncCfg.Logger = logger
		config.EnableTimeSync = true
		config.TimeSync = timesync.NewService(syncCfg)
	}

	a := agent.New()
	a.OnEvent(func(e agent.Event) {
		if e.Error != nil {
			logger.Warn("lifecycle event", "event", e.Type, "error", e.Error)
			return
		}
		logger.Info("lifecycle event", "event", e.Type)
	})

	n, err := a.InitWithNode(config, nodeName, nodeType)
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}
	logger.Info("agent initialised", "nodeID", a.NodeID())

	d, err := n.AddDevice("Switch", "device.switch")
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}
	if _, err := d.AddParam("Power", "param.power", false, true); err != nil {
		return fmt.Errorf("build node: %w", err)
	}
	if _, err := d.AddParam("Uptime", "param.uptime", int64(0), false); err != nil {
		return fmt.Errorf("build node: %w", err)
	}

	watchReports(broker, a.NodeID(), logger)

	if err := a.Start(); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	if simulate {
		go runSimulation(ctx, a, n, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-a.Done():
		logger.Warn("agent terminated on its own")
	}

	if err := a.Stop(); err != nil {
		logger.Error("stop failed", "error", err)
	}
	<-a.Done()

	if err := a.Deinit(); err != nil {
		return fmt.Errorf("deinit agent: %w", err)
	}
	logger.Info("goodbye")
	return nil
}

// newClaimerFactory returns a factory for the configured claim
// transport. Without a claim service URL it falls back to a loopback
// claimer that issues placeholder credentials, which keeps the
// reference binary self-contained.
func newClaimerFactory(store storage.Store, logger *slog.Logger) agent.ClaimerFactory {
	return func(nodeID string) (agent.Claimer, error) {
		if claimURL == "" {
			return &loopbackClaimer{store: store, logger: logger}, nil
		}
		return claim.NewClient(claim.Config{
			BaseURL: claimURL,
			NodeID:  nodeID,
			Secret:  []byte(claimSecret),
			Logger:  logger,
		}, store)
	}
}

// loopbackClaimer stores placeholder credentials so the agent can
// complete its lifecycle against the in-process broker.
type loopbackClaimer struct {
	store  storage.Store
	logger *slog.Logger
}

func (c *loopbackClaimer) Perform(ctx context.Context) error {
	c.logger.Info("issuing loopback credentials")
	blob, err := session.EncodeCredentials(&session.Credentials{
		Endpoint:   "loopback",
		ClientCert: []byte("loopback-cert"),
		ClientKey:  []byte("loopback-key"),
	})
	if err != nil {
		return err
	}
	return c.store.Set(storage.KeyCredentials, blob)
}

// watchReports subscribes a second session to the broker and logs the
// agent's outbound reports, standing in for the cloud side.
func watchReports(broker *session.Broker, nodeID string, logger *slog.Logger) {
	cloud := broker.NewSession()
	err := cloud.Configure(session.Config{
		ClientID: "cloud-observer",
		Credentials: &session.Credentials{
			Endpoint:   "loopback",
			ClientCert: []byte("observer-cert"),
			ClientKey:  []byte("observer-key"),
		},
	})
	if err != nil {
		logger.Warn("observer configure failed", "error", err)
		return
	}
	if err := cloud.Connect(context.Background()); err != nil {
		logger.Warn("observer connect failed", "error", err)
		return
	}

	for _, suffix := range []string{"config", "params/local"} {
		topic := "node/" + nodeID + "/" + suffix
		err := cloud.Subscribe(topic, func(topic string, payload []byte) {
			logger.Info("cloud received report", "topic", topic, "bytes", len(payload))
		})
		if err != nil {
			logger.Warn("observer subscribe failed", "topic", topic, "error", err)
		}
	}
}

// runSimulation toggles the Power parameter and bumps the uptime
// counter, queueing a re-report after each change.
func runSimulation(ctx context.Context, a *agent.Agent, n *node.Node, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	power := false
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		power = !power
		if err := n.SetParam("Switch", "Power", power); err != nil {
			logger.Warn("simulation: set param failed", "error", err)
			continue
		}
		if d, err := n.Device("Switch"); err == nil {
			if p, err := d.Param("Uptime"); err == nil {
				p.SetValue(int64(time.Since(start).Seconds()))
			}
		}
		if err := a.QueueReportNodeDetails(); err != nil {
			logger.Warn("simulation: queue report failed", "error", err)
		}
	}
}
