package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/distribution-auth/ghapp/config"
	"github.com/distribution-auth/ghapp/ghapp/connection"
	"github.com/distribution-auth/ghapp/ghapp/github"
	"github.com/distribution-auth/ghapp/ghapp/installation"
	"github.com/distribution-auth/ghapp/ghapp/issuance"
	"github.com/distribution-auth/ghapp/ghapp/jwt"
	"github.com/distribution-auth/ghapp/ghapp/metrics"
	"github.com/distribution-auth/ghapp/server"
)

func main() {
	var (
		configFile string
		addr       string
		debug      bool

		cert    string
		certKey string
	)

	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file")
	flag.StringVar(&addr, "addr", "", "Address to listen on (overrides the configuration)")
	flag.BoolVar(&debug, "debug", false, "Debug mode")

	flag.StringVar(&cert, "tlscert", "", "Certificate file for TLS")
	flag.StringVar(&certKey, "tlskey", "", "Certificate key for TLS")

	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	if debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
	}
	defer logger.Sync()

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Sugar().Fatalf("Error loading configuration: %v", err)
	}

	if addr != "" {
		cfg.Server.Addr = addr
	}

	if err := cfg.Validate(); err != nil {
		logger.Sugar().Fatalf("Invalid configuration: %v", err)
	}

	if cert != "" && certKey == "" {
		logger.Sugar().Fatalf("Must provide certficate (--tlscert) and key (--tlskey)")
	}

	keys, err := cfg.KeyStore.Config.CreateKeyStore()
	if err != nil {
		logger.Sugar().Fatalf("Error creating key store: %v", err)
	}

	store, err := cfg.Store.Config.CreateStore()
	if err != nil {
		logger.Sugar().Fatalf("Error creating store: %v", err)
	}
	defer store.Close()

	encrypter, err := cfg.Encrypter.Config.CreateEncrypter()
	if err != nil {
		logger.Sugar().Fatalf("Error creating encrypter: %v", err)
	}

	authenticator, err := cfg.Server.Authenticator.Config.CreateAuthenticator()
	if err != nil {
		logger.Sugar().Fatalf("Error creating authenticator: %v", err)
	}

	clientOpts := []github.ClientOption{
		github.WithHTTPClient(github.NewHTTPClient(cfg.GitHub.Timeout)),
		github.WithLogger(logger.Named("github")),
	}

	if apiURL := cfg.GitHub.APIURL; apiURL != "" {
		clientOpts = append(clientOpts, github.WithAPIURL(func(string) (string, error) {
			return apiURL, nil
		}))
	}

	client := github.NewClient(clientOpts...)

	rotation := jwt.NewRotationManager(
		keys,
		jwt.WithWindow(cfg.Rotation.Window),
		jwt.WithLogger(logger.Named("jwt")),
	)

	cache, err := installation.NewCache(client, rotation, installation.Config{
		MaxEntries: cfg.Installations.MaxEntries,
		TTL:        cfg.Installations.TTL,
		Logger:     logger.Named("installations"),
	})
	if err != nil {
		logger.Sugar().Fatalf("Error creating installation cache: %v", err)
	}
	defer cache.Close()

	manager := connection.NewManager(connection.Config{
		Keys:            keys,
		Store:           store,
		Assertions:      rotation,
		Installations:   cache,
		API:             client,
		Encrypter:       encrypter,
		RootURL:         cfg.Server.RootURL,
		SupportedScopes: cfg.GitHub.SupportedScopes,
		Logger:          logger.Named("connections"),
	})

	builds := server.NewBuildTracker(store, cfg.Tokens.BuildLease, nil)

	registry := issuance.NewRegistry(issuance.Config{
		Connections:     manager,
		Assertions:      rotation,
		Installations:   cache,
		API:             client,
		Tokens:          store,
		Encrypter:       encrypter,
		Builds:          builds,
		SupportedScopes: cfg.GitHub.SupportedScopes,
		LockStripes:     cfg.Tokens.LockStripes,
		LockTimeout:     cfg.Tokens.LockTimeout,
		SweepInterval:   cfg.Tokens.SweepInterval,
		Logger:          logger.Named("tokens"),
	})

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := metrics.Register(promRegistry); err != nil {
		logger.Sugar().Fatalf("Error registering metrics: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		rotation.Start(ctx)
	}()

	go func() {
		defer wg.Done()
		registry.Start(ctx)
	}()

	httpServer := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.Server{
			Connections:   manager,
			Tokens:        registry,
			Builds:        builds,
			Authenticator: authenticator,
			Gatherer:      promRegistry,
			Logger:        logger.Named("server"),
		}.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Infof("Error shutting down: %v", err)
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.Server.Addr))

	if cert == "" {
		err = httpServer.ListenAndServe()
	} else {
		err = httpServer.ListenAndServeTLS(cert, certKey)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Sugar().Infof("Error serving: %v", err)
	}

	stop()
	wg.Wait()
}
