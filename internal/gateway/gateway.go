// ABOUTME: Gateway orchestrator that wires the store, relay, routers and servers
// ABOUTME: Runs the gRPC control API and the HTTP server (device sockets, health, metrics)

package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/timecard-gateway/internal/agent"
	"github.com/2389/timecard-gateway/internal/auth"
	"github.com/2389/timecard-gateway/internal/config"
	"github.com/2389/timecard-gateway/internal/control"
	"github.com/2389/timecard-gateway/internal/events"
	"github.com/2389/timecard-gateway/internal/realtime"
	"github.com/2389/timecard-gateway/internal/registration"
	"github.com/2389/timecard-gateway/internal/relay"
	"github.com/2389/timecard-gateway/internal/store"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "timecard"

const (
	tailscaleGRPCPort = ":50051"
	shutdownTimeout   = 5 * time.Second
)

// Gateway owns every server component.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	store        store.Store
	sessions     *agent.Manager
	hub          *relay.Hub
	router       *events.Router
	coordinator  *registration.Coordinator
	sockets      *realtime.Server
	verifier     *auth.JWTVerifier
	metricsReg   *prometheus.Registry
	grpcServer   *grpc.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	httpIsTLS    bool
	shutdownOnce sync.Once
	shutdownErr  error

	ready    chan struct{}
	addrMu   sync.RWMutex
	grpcAddr string
	httpAddr string
}

// initStore opens the SQLite store, creating its directory when needed.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TIMECARD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	s, err := store.NewSQLiteStore(dbPath, store.PoolOptions{
		MaxOpenConns:   cfg.Database.MaxOpenConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// createGRPCServer creates the control API server, with bearer auth when a
// JWT secret is configured.
func createGRPCServer(verifier *auth.JWTVerifier, logger *slog.Logger) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if verifier != nil {
		authLogger := logger.With("component", "auth")
		opts = append(opts,
			grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(verifier, authLogger)),
			grpc.ChainStreamInterceptor(auth.StreamInterceptor(verifier, authLogger)),
		)
		logger.Info("control API auth enabled (JWT)")
	} else {
		logger.Warn("control API auth disabled - no jwt_secret configured")
	}
	return grpc.NewServer(opts...)
}

// newMetricsRegistry builds the registry served on the metrics endpoint.
func newMetricsRegistry(sessions *agent.Manager) (*prometheus.Registry, *relay.Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "connected_sessions",
			Help:      "Device sessions currently connected.",
		}, func() float64 { return float64(sessions.Count()) }),
	)
	m, err := relay.NewMetrics(MetricsNamespace, reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, m, nil
}

// New creates a Gateway from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return newWithStore(cfg, st, logger)
}

func newWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) (*Gateway, error) {
	gw := &Gateway{
		config:   cfg,
		logger:   logger,
		store:    st,
		sessions: agent.NewManager(logger),
		ready:    make(chan struct{}),
	}

	reg, metrics, err := newMetricsRegistry(gw.sessions)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	gw.metricsReg = reg

	var webhook *relay.WebhookNotifier
	if cfg.Webhook.URL != "" {
		webhook = relay.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout, nil, logger)
		logger.Info("webhook sink enabled", "url", cfg.Webhook.URL, "timeout", cfg.Webhook.Timeout)
	}

	gw.hub = relay.NewHub(relay.HubOptions{
		Peers:   gw.sessions,
		Stream:  relay.NewEventBroadcaster(cfg.Relay.SubscriberBuffer, logger),
		Webhook: webhook,
		Metrics: metrics,
		Logger:  logger,
	})

	drivers := events.NewCachedDrivers(st, cfg.Relay.DriverCacheSize, cfg.Relay.DriverCacheTTL)
	gw.router = events.NewRouter(gw.sessions, drivers, gw.hub, logger)

	offset := cfg.Registration.ReservationOffset
	gw.coordinator = registration.New(registration.Options{
		Store:             st,
		Hub:               gw.hub,
		ReservationOffset: &offset,
		Logger:            logger,
	})

	gw.sockets = realtime.NewServer(realtime.Options{
		Registry: gw.sessions,
		Handler: realtime.MessageHandlerFunc(func(ctx context.Context, sessionID string, raw json.RawMessage) {
			gw.router.Handle(ctx, sessionID, raw)
		}),
		SendBuffer:     cfg.Relay.SendBuffer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	if cfg.Auth.JWTSecret != "" {
		gw.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}
	gw.grpcServer = createGRPCServer(gw.verifier, logger)
	control.RegisterRegistrationServer(gw.grpcServer,
		control.NewRegistrationService(gw.coordinator, cfg.Registration.PendingWindow, logger))
	control.RegisterNotificationServer(gw.grpcServer,
		control.NewNotificationService(gw.router, gw.hub, logger))
	control.RegisterClientServer(gw.grpcServer, control.NewClientService(gw.sessions))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Sessions returns the connected-device registry.
func (g *Gateway) Sessions() *agent.Manager {
	return g.sessions
}

// Ready is closed once both servers are listening.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// GRPCAddr returns the bound control API address, or "" before Ready.
func (g *Gateway) GRPCAddr() string {
	g.addrMu.RLock()
	defer g.addrMu.RUnlock()
	return g.grpcAddr
}

// HTTPAddr returns the bound HTTP address, or "" before Ready.
func (g *Gateway) HTTPAddr() string {
	g.addrMu.RLock()
	defer g.addrMu.RUnlock()
	return g.httpAddr
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled")
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// Run starts both servers and blocks until ctx is cancelled or a server
// fails, then shuts everything down. A clean shutdown returns nil.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	g.addrMu.Lock()
	g.grpcAddr = grpcLn.Addr().String()
	g.httpAddr = httpLn.Addr().String()
	g.addrMu.Unlock()
	close(g.ready)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String(), "tls", g.serveTLSFromFiles() || g.httpIsTLS)
		var err error
		if g.serveTLSFromFiles() {
			err = g.httpServer.ServeTLS(httpLn, g.config.Server.TLSCertFile, g.config.Server.TLSKeyFile)
		} else {
			err = g.httpServer.Serve(httpLn)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (g *Gateway) serveTLSFromFiles() bool {
	return !g.httpIsTLS && g.config.Server.TLSCertFile != ""
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "timecard-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens there for both servers.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", tailscaleGRPCPort)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if !tsCfg.HTTPS {
		httpLn, err = g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return grpcLn, httpLn, nil
	}

	httpLn, err = g.createTailscaleTLSListener()
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, err
	}
	g.httpIsTLS = true
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener listens on :443 with tailnet-provisioned certificates.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops both servers, disconnects devices, closes the relay sinks
// and the store. Only the first call does any work.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		errs = appendCloseError(errs, "socket shutdown", g.sockets.Close(ctx))

		// ends StreamEvents calls so GracefulStop can finish
		g.hub.Close()
		g.shutdownGRPCServer(ctx)

		if g.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		}
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}
