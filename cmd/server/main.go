package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/config"
	"github.com/ryandielhenn/zephyrgroup/pkg/dht"
	"github.com/ryandielhenn/zephyrgroup/pkg/gossip"
	"github.com/ryandielhenn/zephyrgroup/pkg/group"
	"github.com/ryandielhenn/zephyrgroup/pkg/node"
	"github.com/ryandielhenn/zephyrgroup/pkg/registry"
	"github.com/ryandielhenn/zephyrgroup/pkg/ring"
	"github.com/ryandielhenn/zephyrgroup/pkg/tablefile"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

var (
	configFile string
	verbose    bool
	flagID     string
	flagListen string
	flagAddr   string
	flagEtcd   string
	flagTrans  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zephyrgroup",
		Short: "Group ID resolver node",
		Long: `Runs one node of the group ID resolver. Each node assigns random group IDs
to account addresses, exchanges them with its peers and resolves a canonical
table by majority vote.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.Flags().StringVar(&flagID, "id", "", "node ID (default: $SELF_ID or a random UUID)")
	rootCmd.Flags().StringVar(&flagListen, "listen", "", "HTTP listen address")
	rootCmd.Flags().StringVar(&flagAddr, "advertise", "", "address peers use to reach this node")
	rootCmd.Flags().StringVar(&flagEtcd, "etcd", "", "comma separated etcd endpoints")
	rootCmd.Flags().StringVar(&flagTrans, "transport", "", "record transport: http or etcd")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zephyrgroup %s (%s)\n", version, gitSHA)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if flagID != "" {
		cfg.NodeID = flagID
	}
	if flagListen != "" {
		cfg.ListenAddr = flagListen
	}
	if flagAddr != "" {
		cfg.AdvertiseAddr = flagAddr
	}
	if flagEtcd != "" {
		cfg.EtcdEndpoints = strings.Split(flagEtcd, ",")
	}
	if flagTrans != "" {
		cfg.Gossip.Transport = config.Transport(flagTrans)
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	logger := setupLogger(verbose)
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Initialize this node with resolver, record store and peer ring
	res, err := group.New(group.Config{
		AccAddrLength: cfg.AccAddrLength,
		GroupIDRange:  cfg.GroupIDRange,
	}, group.WithSaver(tablefile.Saver{}))
	if err != nil {
		return err
	}
	records := dht.NewStore(cfg.Gossip.RecordCapacity)
	r := ring.New(128, ring.FNV32a)
	advertise := node.NormalizeHostPort(cfg.AdvertiseAddr, "8080")
	n := node.New(res, records, r, node.Options{
		ID:        cfg.NodeID,
		Addr:      advertise,
		TablePath: cfg.TablePath,
		Logger:    logger,
	})
	n.SetPeers(nil)
	if err := n.Restore(); err != nil {
		logger.Warn("could not restore group table", zap.String("path", cfg.TablePath), zap.Error(err))
	}

	// 2. Create etcd client
	logger.Info("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
	cli, err := registry.NewClient(cfg.EtcdEndpoints, 5*time.Second)
	if err != nil {
		return err
	}
	defer cli.Close()

	// 3. Register this node
	logger.Info("registering with etcd", zap.String("id", cfg.NodeID), zap.String("addr", advertise))
	leaseID, cancelLease, err := registry.RegisterNode(ctx, cli, cfg.NodeID, advertise, cfg.LeaseTTL)
	if err != nil {
		return err
	}
	defer func() {
		cancelLease()
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = cli.Revoke(rctx, leaseID)
	}()

	// 4. Watch for updates about peers
	registry.WatchPeers(ctx, cli, logger, func(peers map[string]string) {
		normalized := make(map[string]string, len(peers))
		for id, addr := range peers {
			if id == cfg.NodeID {
				continue
			}
			normalized[id] = node.NormalizeHostPort(addr, "8080")
		}
		n.SetPeers(normalized)
		logger.Debug("peers updated", zap.Int("count", len(normalized)))
	})

	// 5. Start record gossip over the configured transport
	var transport gossip.Transport = gossip.HTTPTransport{}
	if cfg.Gossip.Transport == config.TransportEtcd {
		et := registry.Transport{KV: cli}
		transport = et
		go publishLoop(ctx, et, n, cfg.Gossip.Interval.Std(), logger)
	}
	g := gossip.New(gossip.Config{
		NodeID:       gossip.NodeID(cfg.NodeID),
		Fanout:       cfg.Gossip.Fanout,
		Interval:     cfg.Gossip.Interval.Std(),
		RecordTTL:    cfg.Gossip.RecordTTL.Std(),
		FetchTimeout: cfg.Gossip.FetchTimeout.Std(),
		Push:         cfg.Gossip.Push && cfg.Gossip.Transport == config.TransportHTTP,
	}, r, transport, records, n, logger)
	n.SetGossiper(g)
	g.Start(ctx)
	defer g.Stop()

	// 6. Wire up HTTP node endpoints
	mux := http.NewServeMux()
	n.Register(mux)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	telemetry.SetBuildInfo(version, gitSHA)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("node listening", zap.String("addr", cfg.ListenAddr), zap.String("id", cfg.NodeID))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := n.Store(); err != nil {
		return err
	}
	return nil
}

// publishLoop keeps this node's record current in etcd for peers using the
// etcd transport.
func publishLoop(ctx context.Context, t registry.Transport, n *node.Node, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var last uint64
	published := false
	for {
		rec := n.Record()
		if !published || rec.Seq != last {
			if err := t.Publish(ctx, rec); err != nil {
				logger.Warn("publish record", zap.Error(err))
			} else {
				last, published = rec.Seq, true
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setupLogger(verbose bool) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := zcfg.Build()
	return logger
}
