// Command yv-server starts the YearView gRPC server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/karthikpasupathy/yearview/internal/config"
	"github.com/karthikpasupathy/yearview/internal/logger"
	"github.com/karthikpasupathy/yearview/internal/metrics"
	"github.com/karthikpasupathy/yearview/internal/migrate"
	"github.com/karthikpasupathy/yearview/internal/repository"
	"github.com/karthikpasupathy/yearview/internal/repository/memory"
	"github.com/karthikpasupathy/yearview/internal/repository/postgres"
	grpcserver "github.com/karthikpasupathy/yearview/internal/server/grpc"
	"github.com/karthikpasupathy/yearview/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type flags struct {
	configPath string
	listen     string
	dsn        string
	jwtKey     string
	dev        bool
	certFile   string
	keyFile    string
	tokenTTL   time.Duration
	issueToken string
}

func parseFlags(args []string) (flags, map[string]bool, error) {
	var f flags
	fs := flag.NewFlagSet("yv-server", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "yearview.yaml", "YAML config path (created on first run)")
	fs.StringVar(&f.listen, "listen", "", "gRPC listen address (overrides config)")
	fs.StringVar(&f.dsn, "dsn", "", "PostgreSQL DSN, empty keeps events in memory (overrides config)")
	fs.StringVar(&f.jwtKey, "jwt-key", "", "HS256 signing key (overrides config)")
	fs.BoolVar(&f.dev, "dev", false, "enable server reflection and console logs (overrides config)")
	fs.StringVar(&f.certFile, "tls-cert", "", "TLS certificate (PEM); empty serves plaintext")
	fs.StringVar(&f.keyFile, "tls-key", "", "TLS private key (PEM)")
	fs.DurationVar(&f.tokenTTL, "token-ttl", service.DefaultTokenTTL, "lifetime of issued tokens")
	fs.StringVar(&f.issueToken, "issue-token", "", `print a token for the given user uuid ("new" for a fresh one) and exit`)
	if err := fs.Parse(args); err != nil {
		return flags{}, nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// applyFlags lets explicitly set flags win over the config file.
func applyFlags(cfg *config.Config, f flags, set map[string]bool) {
	if set["listen"] {
		cfg.Listen = f.listen
	}
	if set["dsn"] {
		cfg.DSN = f.dsn
	}
	if set["jwt-key"] {
		cfg.JWTKey = f.jwtKey
	}
	if set["dev"] {
		cfg.Dev = f.dev
	}
}

// main loads configuration, runs migrations, and starts the gRPC server.
func main() {
	f, set, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	applyFlags(cfg, f, set)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if f.issueToken != "" {
		if err := issueToken(os.Stdout, cfg, f); err != nil {
			fmt.Fprintln(os.Stderr, "issue token:", err)
			os.Exit(1)
		}
		return
	}

	log, err := logger.New(cfg.Log, cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, f, log); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func issueToken(w io.Writer, cfg *config.Config, f flags) error {
	user := f.issueToken
	if user == "new" {
		user = uuid.Must(uuid.NewV4()).String()
	}
	tk, err := service.NewTokenService([]byte(cfg.JWTKey), f.tokenTTL).Issue(user)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "user:    %s\nexpires: %s\ntoken:   %s\n", user, tk.ExpiresAt.Format(time.RFC3339), tk.AccessToken)
	return err
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func(), error) {
	if cfg.DSN == "" {
		log.Warn("no dsn configured, using in-memory store")
		return memory.New(), func() {}, nil
	}
	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStore(db), db.Close, nil
}

func run(cfg *config.Config, f flags, log *zap.Logger) error {
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Listen),
		zap.String("timezone", cfg.Timezone),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	loc := cfg.Location()
	reserved := cfg.Reserved()
	opts := []service.Option{service.WithLogger(log)}

	tokens := service.NewTokenService([]byte(cfg.JWTKey), f.tokenTTL, opts...)
	app := grpcserver.New(grpcserver.Services{
		Categories: service.NewCategoryService(store, reserved, opts...),
		Events:     service.NewEventService(store, store, opts...),
		Holidays:   service.NewHolidayService(store, opts...),
		Sync: service.NewSyncService(store, store, reserved, opts,
			service.WithLocation(loc), service.WithMaxBatch(cfg.MaxBatch), service.WithMetrics(m)),
		Calendar: service.NewCalendarService(store, store, loc, cfg.ClassifyOptions(), opts...),
	}, loc, log)

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(log),
			grpcserver.MetricsUnary(m),
			grpcserver.LoggingUnary(log),
			grpcserver.AuthUnary(tokens),
		),
	}
	if f.certFile != "" {
		creds, err := credentials.NewServerTLSFromFile(f.certFile, f.keyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	s := grpc.NewServer(serverOpts...)
	app.Register(s)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Listen), zap.Bool("tls", f.certFile != ""))
		errCh <- s.Serve(lis)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.MetricsListen))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
	}

	// Wait for stop
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	hs.Shutdown()
	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(sctx)
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Stop()
	}
	return runErr
}
