// Command controller runs the Meowith cluster controller: node
// registration and authentication, certificate issuance, cluster
// configuration distribution, and the storage-map/cache-invalidation
// hubs every storage node depends on.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/internal/telemetry"
	controllerapi "github.com/meowith/meowith/pkg/api/controller"
	"github.com/meowith/meowith/pkg/api/contract"
	"github.com/meowith/meowith/pkg/config"
	"github.com/meowith/meowith/pkg/mdsftp"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/metrics"
	metricsprom "github.com/meowith/meowith/pkg/metrics/prometheus"
	"github.com/meowith/meowith/pkg/mgpp"
	"github.com/meowith/meowith/pkg/peerauth"
	"github.com/meowith/meowith/pkg/storagemap"
)

var (
	version = "dev"

	configFile string
)

func main() {
	root := &cobra.Command{
		Use:   "controller",
		Short: "Run the Meowith cluster controller",
		RunE:  run,
	}
	root.Flags().StringVar(&configFile, "config", "", "path to configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
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
		ServiceName:    "meowith-controller",
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
		ServiceName:  "meowith-controller",
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

	selfID := controllerIdentity

	tokens := peerauth.NewControllerTokenMap()
	mdsftpAuth := &peerauth.NodeAuthenticator{Validator: tokens}
	mgppAuth := &peerauth.NodeAuthenticator{Validator: tokens}

	ca, err := loadOrGenerateCA(cfg.Controller.CACertFile, cfg.Controller.CAKeyFile)
	if err != nil {
		logger.Warn("certificate authority unavailable, CSR endpoint will fail", logger.Err(err))
	}

	bus := mgpp.NewBus(selfID, mgppAuth)
	registry := storagemap.NewRegistry(cfg.Controller.LivenessFloor, bus)

	if cfg.Metrics.Enabled {
		metricsprom.NewStoragemapMetrics(registry)
	}

	loginMethods := make([]contract.LoginMethod, 0, len(cfg.Controller.LoginMethods))
	for _, m := range cfg.Controller.LoginMethods {
		loginMethods = append(loginMethods, contract.LoginMethod(m))
	}

	generalConfig := contract.GeneralConfiguration{
		MdsftpPort:          cfg.Controller.MdsftpPort,
		MgppPort:            cfg.Controller.MgppPort,
		AccessTokenValidity: cfg.Controller.AccessTokenValidity,
		MaxReaders:          cfg.Controller.MaxReaders,
		DefaultUserQuota:    cfg.Controller.DefaultUserQuota,
		LoginMethods:        loginMethods,
		AppTokenSecret:      cfg.Controller.AppTokenSecret,
	}

	ctrl := controllerapi.New(meta, registry, tokens, ca, generalConfig, cfg.Controller.AccessTokenValidity)
	apiServer := controllerapi.NewServer(controllerapi.APIConfig{Port: cfg.Controller.APIPort}, ctrl, nil)

	mgppListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Controller.MgppPort))
	if err != nil {
		return fmt.Errorf("binding mgpp listener: %w", err)
	}
	go acceptMgpp(ctx, mgppListener, bus)

	mdsftpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Controller.MdsftpPort))
	if err != nil {
		return fmt.Errorf("binding mdsftp listener: %w", err)
	}
	go acceptMdsftp(ctx, mdsftpListener, selfID, mdsftpAuth)

	serverDone := make(chan error, 1)
	go func() { serverDone <- apiServer.Start(ctx) }()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Port)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("controller is running")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		bus.Shutdown()
		cancel()
		return <-serverDone
	case err := <-serverDone:
		signal.Stop(sigChan)
		return err
	}
}

// controllerIdentity is the stable UUID the controller presents on the
// MDSFTP/MGPP transports it hosts. It has no registered node row of its
// own, so this is a fixed value rather than one minted at register time.
var controllerIdentity = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// acceptMgpp loops accepting raw TCP connections onto bus, the relay hub
// every storage node dials into for cache-invalidation broadcasts.
func acceptMgpp(ctx context.Context, ln net.Listener, bus *mgpp.Bus) {
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
				logger.Error("mgpp accept failed", logger.Err(err))
				continue
			}
		}

		go func() {
			if _, err := bus.Accept(ctx, netConn); err != nil {
				logger.Warn("mgpp handshake failed", logger.Err(err))
			}
		}()
	}
}

// noopMdsftpHandler rejects every packet: the controller accepts MDSFTP
// connections only long enough to relay peer-token validation during the
// handshake, never to serve fragment operations.
func noopMdsftpHandler(_ *mdsftp.Channel) mdsftp.Handler {
	return mdsftp.HandlerFunc(func(_ *mdsftp.Channel, _ mdsftp.RawPacket) error {
		return fmt.Errorf("controller does not serve fragment operations")
	})
}

// acceptMdsftp loops accepting raw TCP connections and running the MDSFTP
// handshake on each so a dialing node's identity can be validated against
// authenticator, then immediately idles the connection since the
// controller has nothing to serve over it.
func acceptMdsftp(ctx context.Context, ln net.Listener, selfID uuid.UUID, authenticator mdsftp.Authenticator) {
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
			if _, err := mdsftp.Accept(ctx, netConn, selfID, authenticator, noopMdsftpHandler); err != nil {
				logger.Warn("mdsftp handshake failed", logger.Err(err))
			}
		}()
	}
}

func loadOrGenerateCA(certFile, keyFile string) (*peerauth.CertAuthority, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("ca_cert_file/ca_key_file not configured")
	}
	ca, err := peerauth.LoadCertAuthority(certFile, keyFile)
	if err == nil {
		return ca, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return peerauth.GenerateSelfSignedCA(certFile, keyFile)
}

func serveMetrics(port int) {
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: metrics.Handler()}
	logger.Info("metrics server listening", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", logger.Err(err))
	}
}
