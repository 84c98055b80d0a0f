package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/coffersTech/nanosearch/internal/cluster"
	"github.com/coffersTech/nanosearch/internal/controller"
	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
	"github.com/coffersTech/nanosearch/internal/pkg/optimizer"
	"github.com/coffersTech/nanosearch/internal/pkg/security"
	"github.com/coffersTech/nanosearch/internal/registry"
	"github.com/coffersTech/nanosearch/internal/server"
	"github.com/coffersTech/nanosearch/internal/storage"
	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	port       int
	dataDir    string
	webDir     string
	retention  string
	codec      string
	maxTableMB int64
	rate       float64
	burst      int
	peers      []string
	console    bool
	join       string
	joinToken  string
	advertise  string
	nodeID     string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnv(cmd,
				"port", "NANOSEARCH_PORT",
				"data", "NANOSEARCH_DATA",
				"retention", "NANOSEARCH_RETENTION",
				"codec", "NANOSEARCH_CODEC",
				"peers", "NANOSEARCH_PEERS",
				"join", "NANOSEARCH_JOIN",
				"join-token", "NANOSEARCH_JOIN_TOKEN",
				"advertise", "NANOSEARCH_ADVERTISE",
			); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts, cmd.Flags().Changed("retention"))
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.port, "port", 8088, "HTTP port to listen on")
	f.StringVar(&opts.dataDir, "data", "~/.nanosearch/data", "Directory for column files, WAL and metadata")
	f.StringVar(&opts.webDir, "web", "", "Directory of static web files (disabled when empty)")
	f.StringVar(&opts.retention, "retention", "168h", "Data retention duration, 0 keeps everything")
	f.StringVar(&opts.codec, "codec", "zstd", "Column block codec (zstd, lz4)")
	f.Int64Var(&opts.maxTableMB, "max-table-mb", engine.DefaultMaxTableSize>>20, "MemTable size in MB that triggers a flush")
	f.Float64Var(&opts.rate, "rate", 50, "Search and explain requests per second, 0 disables the limit")
	f.IntVar(&opts.burst, "burst", 100, "Rate limiter burst")
	f.StringSliceVar(&opts.peers, "peers", nil, "Peer node base URLs for /api/cluster routes")
	f.BoolVar(&opts.console, "console", false, "Accept peers joining through /api/cluster/join")
	f.StringVar(&opts.join, "join", "", "Console base URL to announce this node to")
	f.StringVar(&opts.joinToken, "join-token", "", "Write token issued by the console")
	f.StringVar(&opts.advertise, "advertise", "", "Base URL the console should use for this node (default http://<hostname>:<port>)")
	f.StringVar(&opts.nodeID, "node-id", "", "Cluster node ID (default: generated and kept in the data dir)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions, retentionFlagSet bool) error {
	logger := root.logger

	dataDir, err := homedir.Expand(opts.dataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	codec, err := storage.ParseCodec(opts.codec)
	if err != nil {
		return err
	}

	key, created, err := security.LoadOrCreateKey(filepath.Join(dataDir, ".master.key"))
	if err != nil {
		return err
	}
	if created {
		logger.Warn("generated a new master key; back it up or set "+security.KeyEnv, "dir", dataDir)
	}
	metaStore := controller.NewStore(filepath.Join(dataDir, ".nanosearch.meta"), key)
	if err := metaStore.Load(); err != nil {
		return err
	}

	// A retention saved through the API wins over the default but not over
	// an explicit flag.
	retentionStr := opts.retention
	if !retentionFlagSet && metaStore.IsInitialized() {
		retentionStr = metaStore.Config().Retention
	}
	retention, err := controller.ParseRetention(retentionStr)
	if err != nil {
		return err
	}

	writer, err := storage.NewColumnWriter(codec)
	if err != nil {
		return err
	}
	reader := storage.NewColumnReader()

	metrics := engine.NewMetrics()
	explainCache, err := engine.NewExplainCache(engine.DefaultExplainTTL, logger)
	if err != nil {
		return err
	}
	mt := engine.NewMemTable()
	mt.StartStatsTicker(time.Second)

	qe, err := engine.NewQueryEngine(dataDir, mt, reader.ReadSnapshot, writer.WriteSnapshot, retention,
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithExplainCache(explainCache),
		engine.WithOptimizer(optimizer.New(nanoql.DefaultBuilder, optimizer.WithLogger(logger))),
	)
	if err != nil {
		return err
	}
	qe.MaxTableSize = opts.maxTableMB << 20
	logger.Info("query engine ready", "data", dataDir, "codec", codec, "retention", retention)

	go qe.RunCleaner(ctx, time.Hour)

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithRateLimit(opts.rate, opts.burst),
		server.WithWebDir(opts.webDir),
	}
	if peers := cleanPeers(opts.peers); len(peers) > 0 || opts.console {
		agg := cluster.NewAggregator(peers, logger)
		if opts.console {
			nodes := registry.NewStore()
			nodes.StartCleanupLoop(ctx, time.Minute, 3*heartbeatInterval)
			agg.Discover = nodes.URLs
			srvOpts = append(srvOpts, server.WithRegistry(nodes))
		}
		srvOpts = append(srvOpts, server.WithAggregator(agg))
		logger.Info("cluster routes enabled", "static_peers", len(peers), "console", opts.console)
	}
	srv := server.New(qe, metaStore, srvOpts...)

	if opts.join != "" {
		self, err := selfNode(dataDir, opts)
		if err != nil {
			return err
		}
		go registry.Heartbeat(ctx, opts.join, opts.joinToken, self, heartbeatInterval, logger)
		logger.Info("announcing to console", "console", opts.join, "node_id", self.NodeID, "url", self.URL)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", opts.port))
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server stopped", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("flushing memtable to disk")
	flushErr := qe.Flush()
	if flushErr != nil {
		logger.Error("final flush failed", "error", flushErr)
	}
	closeErr := qe.Close()

	logger.Info("nanosearch exited")
	return errors.Join(serveErr, flushErr, closeErr)
}

const heartbeatInterval = 30 * time.Second

// selfNode describes this node to the console. The node ID is kept in the
// data directory so restarts reuse it.
func selfNode(dataDir string, opts *serveOptions) (registry.Node, error) {
	hostname, _ := os.Hostname()
	n := registry.Node{NodeID: opts.nodeID, URL: opts.advertise, Hostname: hostname, Version: Version}
	if n.URL == "" {
		n.URL = fmt.Sprintf("http://%s:%d", cmp.Or(hostname, "localhost"), opts.port)
	}
	if n.NodeID != "" {
		return n, nil
	}

	idFile := filepath.Join(dataDir, ".node-id")
	if data, err := os.ReadFile(idFile); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		n.NodeID = strings.TrimSpace(string(data))
		return n, nil
	}
	n.NodeID = uuid.NewString()
	if err := os.WriteFile(idFile, []byte(n.NodeID), 0644); err != nil {
		return registry.Node{}, fmt.Errorf("save node id: %w", err)
	}
	return n, nil
}

func cleanPeers(peers []string) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
