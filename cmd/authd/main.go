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

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"authcore.org/internal/auth"
	"authcore.org/internal/challenge"
	"authcore.org/internal/config"
	"authcore.org/internal/httpapi"
	"authcore.org/internal/notify"
	"authcore.org/internal/obs"
	"authcore.org/internal/outbox"
	"authcore.org/internal/queue"
	"authcore.org/internal/rbac"
	"authcore.org/internal/store/memstore"
	"authcore.org/internal/store/pg"
	"authcore.org/internal/token"
	"authcore.org/internal/usecase"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Component("authd", "main")
	if err := run(); err != nil {
		log.WithError(err).Fatal("authd stopped")
	}
}

// backend is the storage side of the service: reads, the write path and
// whatever needs closing on shutdown.
type backend struct {
	store     auth.Store
	processor outbox.Processor
	probe     httpapi.ReadyProbe
	redis     *redis.Client
	closers   []func() error
}

func (b *backend) close() {
	for _, c := range b.closers {
		_ = c()
	}
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{}
	if cfg.Storage.RedisURL != "" {
		client, err := queue.Connect(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.probe.Redis = client
		b.closers = append(b.closers, client.Close)
	}

	if cfg.Storage.Mode == config.ModeMemory {
		mem := memstore.New()
		b.store, b.processor = mem, mem
		return b, nil
	}

	st, err := pg.Open(cfg.Storage.PostgresDSN)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	b.closers = append(b.closers, st.Close)
	b.store = st
	b.probe.DB = st.DB()

	switch cfg.Storage.Processor {
	case config.ProcessorDirect:
		b.processor = pg.NewApplier(st.DB())
	default:
		b.processor = queue.NewProducer(queue.NewList(b.redis, cfg.Storage.Queue), nil)
	}
	return b, nil
}

func newService(cfg config.Config, b *backend) (*usecase.Service, error) {
	key, err := cfg.Token.Key()
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewService(key,
		cfg.Token.SigningOption(),
		token.WithIssuer(cfg.Token.Issuer),
		token.WithAccessTTL(cfg.Token.AccessTTL),
		token.WithRefreshTTL(cfg.Token.RefreshTTL),
	)
	if err != nil {
		return nil, err
	}
	challenges, err := challenge.New(b.store, challenge.WithExpiry(cfg.Challenge.Expiry))
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.NewLog(obs.Logger())
	if cfg.Storage.Notifier == config.NotifierQueue {
		notifier = notify.NewQueue(queue.NewList(b.redis, cfg.Storage.EmailQueue), nil)
	}

	grants := rbac.NewCachedGrantSource(b.store.Grants(context.Background()), cfg.Cache.GroupSize, cfg.Cache.GroupTTL)
	return usecase.New(b.store, b.processor, tokens, challenges,
		usecase.WithNotifier(notifier),
		usecase.WithResolver(rbac.NewResolver(grants)),
	)
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit, "authd")
	log := obs.Component("authd", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	svc, err := newService(cfg, b)
	if err != nil {
		return err
	}

	api := httpapi.New(svc,
		httpapi.WithReadyProbe(b.probe),
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
	)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errc := make(chan error, 2)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version, "mode": cfg.Storage.Mode}).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		health := httpapi.RegisterGRPC(grpcServer, httpapi.NewGRPCServer(svc))
		defer health.Shutdown()
		go func() {
			log.WithField("addr", cfg.GRPC.Addr).Info("grpc listening")
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
		log.WithError(err).Error("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("http shutdown")
	}
	log.Info("stopped")
	return err
}
