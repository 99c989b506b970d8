// Command node runs a Meowith storage-node process: it serves the public
// data-plane HTTP API (file/directory/bucket operations), answers MDSFTP
// requests from peers reserving and transferring fragments on this node,
// and keeps the controller informed of its capacity and identity.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/internal/telemetry"
	nodeapi "github.com/meowith/meowith/pkg/api/node"
	"github.com/meowith/meowith/pkg/config"
	"github.com/meowith/meowith/pkg/dataplane"
	"github.com/meowith/meowith/pkg/fragserver"
	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/mdsftp"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/metrics"
	metricsprom "github.com/meowith/meowith/pkg/metrics/prometheus"
	"github.com/meowith/meowith/pkg/mgpp"
	"github.com/meowith/meowith/pkg/peerauth"
	"github.com/meowith/meowith/pkg/storagemap"
	"github.com/meowith/meowith/pkg/upload"
)

var (
	version = "dev"

	configFile   string
	registerCode string
)

func main() {
	root := &cobra.Command{
		Use:   "node",
		Short: "Run a Meowith storage-node process",
		RunE:  run,
	}
	root.Flags().StringVar(&configFile, "config", "", "path to configuration file")
	root.Flags().StringVar(&registerCode, "register-code", "", "single-use code to join the cluster on first run")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "meowith-node",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:      cfg.Telemetry.Profiling.Enabled,
		ServiceName:  "meowith-node",
		Endpoint:     cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes: cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("initializing profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	cc := newControllerClient(cfg.Node.ControllerBaseURL)
	id, err := ensureRegistered(ctx, cc, cfg.Node.DataDir, registerCode, cfg.Node.AdvertiseAddr)
	if err != nil {
		return fmt.Errorf("joining cluster: %w", err)
	}
	logger.Info("node identity established", logger.NodeID(id.NodeID.String()))

	generalCfg, err := cc.generalConfig(ctx, id.NodeID, id.AccessToken)
	if err != nil {
		return fmt.Errorf("fetching cluster configuration: %w", err)
	}

	controllerHost, err := hostOnly(cfg.Node.ControllerBaseURL)
	if err != nil {
		return fmt.Errorf("parsing controller base url: %w", err)
	}
	controllerMdsftpAddr := net.JoinHostPort(controllerHost, strconv.Itoa(generalCfg.MdsftpPort))
	controllerMgppAddr := net.JoinHostPort(controllerHost, strconv.Itoa(generalCfg.MgppPort))
	_ = controllerMdsftpAddr // reserved for relayed validation, not dialed directly by a node today

	meta, err := cassandra.Open(cassandra.Config{
		Hosts:          cfg.Metadata.Hosts,
		Keyspace:       cfg.Metadata.Keyspace,
		Consistency:    cfg.Metadata.Consistency,
		ConnectTimeout: cfg.Metadata.ConnectTimeout,
		Username:       cfg.Metadata.Username,
		Password:       cfg.Metadata.Password,
	})
	if err != nil {
		return fmt.Errorf("connecting to metadata store: %w", err)
	}

	chunkLedger, err := ledger.Open(cfg.Node.DataDir+"/ledger", cfg.Node.MaxSpace.Uint64())
	if err != nil {
		return fmt.Errorf("opening fragment ledger: %w", err)
	}
	defer chunkLedger.Close()

	chunkStore, err := ledger.NewChunkStore(cfg.Node.DataDir + "/chunks")
	if err != nil {
		return fmt.Errorf("opening chunk store: %w", err)
	}

	if cfg.Metrics.Enabled {
		metricsprom.NewLedgerMetrics(chunkLedger)
	}

	remoteValidator := &peerauth.RemoteTokenValidator{
		ControllerBaseURL: cfg.Node.ControllerBaseURL,
		AccessToken:       id.AccessToken,
	}
	authenticator := &peerauth.NodeAuthenticator{SelfToken: id.AccessToken, Validator: remoteValidator}

	fragSrv := &fragserver.Server{Ledger: chunkLedger, Chunks: chunkStore}
	pool := mdsftp.NewPool(id.NodeID, authenticator, fragSrv.Handler)

	if cfg.Metrics.Enabled {
		metricsprom.NewPoolMetrics(pool)
	}

	mdsftpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Node.MdsftpPort))
	if err != nil {
		return fmt.Errorf("binding mdsftp listener: %w", err)
	}
	go acceptMdsftp(ctx, mdsftpListener, id.NodeID, authenticator, fragSrv, pool)

	storageCache := storagemap.NewCache(cfg.Node.ControllerBaseURL, id.AccessToken, nil)

	appTokens, err := peerauth.NewAppTokenService(peerauth.AppTokenConfig{Secret: generalCfg.AppTokenSecret})
	if err != nil {
		return fmt.Errorf("initializing app token verifier: %w", err)
	}
	nonceVerifier := peerauth.NewNonceVerifier(appTokens, meta)

	mgppHandler := func(conn *mgpp.Conn, pkt mgpp.InvalidateCache) {
		switch pkt.CacheID {
		case mgpp.CacheNodeStorageMap:
			storageCache.Invalidate()
		case mgpp.CacheValidateNonce:
			nonceVerifier.Clear()
		}
	}
	mgppConn, err := mgpp.Dial(ctx, controllerMgppAddr, id.NodeID, authenticator, mgppHandler)
	if err != nil {
		logger.Warn("failed to connect to controller MGPP bus, cache invalidation relay disabled", logger.Err(err))
	} else {
		defer mgppConn.Close()
	}

	heartbeatInterval := cfg.Node.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = storagemap.DefaultHeartbeatInterval
	}
	poster := storagemap.NewPoster(cfg.Node.ControllerBaseURL, id.AccessToken, heartbeatInterval, chunkLedger, nil)
	go poster.Run(ctx)
	defer poster.Stop()

	planner := &upload.Planner{SelfID: id.NodeID, Ledger: chunkLedger, Nodes: storageCache, Pool: pool}

	var dataplaneMetrics *metricsprom.DataplaneMetrics
	if cfg.Metrics.Enabled {
		dataplaneMetrics = metricsprom.NewDataplaneMetrics()
	}

	svc := &dataplane.Service{
		SelfID:   id.NodeID,
		Ledger:   chunkLedger,
		Chunks:   chunkStore,
		Planner:  planner,
		Pool:     pool,
		Metadata: meta,
		Sessions: upload.NewMemStore(),
		Metrics:  dataplaneMetrics,
	}

	verifier := nodeapi.NewTokenVerifier(nonceVerifier)
	apiServer := nodeapi.NewServer(nodeapi.APIConfig{Port: cfg.Node.InternalPort}, svc, meta, chunkLedger, verifier)

	serverDone := make(chan error, 1)
	go func() { serverDone <- apiServer.Start(ctx) }()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Port)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("node is running", logger.NodeID(id.NodeID.String()))

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
		return <-serverDone
	case err := <-serverDone:
		signal.Stop(sigChan)
		return err
	}
}

func hostOnly(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in %q", baseURL)
	}
	return host, nil
}

// acceptMdsftp loops accepting raw TCP connections and running the MDSFTP
// handshake on each, handing the authenticated connection to pool so
// peers can open channels against this node's fragment server.
func acceptMdsftp(ctx context.Context, ln net.Listener, selfID uuid.UUID, authenticator mdsftp.Authenticator, fragSrv *fragserver.Server, pool *mdsftp.Pool) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		netConn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Error("mdsftp accept failed", logger.Err(err))
				continue
			}
		}

		go func() {
			conn, err := mdsftp.Accept(ctx, netConn, selfID, authenticator, fragSrv.Handler)
			if err != nil {
				logger.Warn("mdsftp handshake failed", logger.Err(err))
				return
			}
			pool.AddConnection(conn)
		}()
	}
}

func serveMetrics(port int) {
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: metrics.Handler()}
	logger.Info("metrics server listening", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", logger.Err(err))
	}
}
