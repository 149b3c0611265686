package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/internal/cache"
	"github.com/brandon/mailflow/internal/config"
	"github.com/brandon/mailflow/internal/credential"
	"github.com/brandon/mailflow/internal/decoder"
	"github.com/brandon/mailflow/internal/email"
	"github.com/brandon/mailflow/internal/mcp"
	"github.com/brandon/mailflow/internal/parser"
	"github.com/brandon/mailflow/internal/syncer"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.String("config", config.DefaultConfigPath(), "Path to the YAML configuration file")
	setPassword = flag.String("set-password", "", "Store the password read from stdin for the given account in the keyring, then exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailflow version %s\n", version)
		os.Exit(0)
	}

	// Set up logging. Stdout carries the MCP protocol.
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if *setPassword != "" {
		if err := storePassword(cfg, *setPassword); err != nil {
			logger.WithError(err).Fatal("Failed to store password")
		}
		logger.WithField("account", *setPassword).Info("Password stored")
		return
	}

	logger.Info("Starting mailflow")

	// Initialize cache
	emailCache, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}
	defer emailCache.Close()

	// Initialize cache store
	cacheStore, err := cache.NewStore(emailCache, logger, cache.DefaultDetailCacheSize)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create cache store")
	}

	credentials, err := openCredentials(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open credential store")
	}

	accounts, err := email.NewAccountManager(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load accounts")
	}

	// Initialize email manager
	factory := &email.ProfileFactory{
		Config: email.DialConfig{
			DialTimeout:    cfg.DialTimeout,
			CommandTimeout: cfg.CommandTimeout,
			Identity: email.ClientIdentity{
				Name:    cfg.Client.Name,
				Version: cfg.Client.Version,
			},
			PreviewBytes: cfg.PreviewBytes,
		},
		Logger: logger,
	}
	emailManager := email.NewManager(accounts, credentials, factory, parser.New(decoder.New(logger), logger), logger)
	emailManager.SetPreview(cfg.Preview)

	engine := syncer.New(emailManager, cacheStore, syncer.Options{
		TTL:         cfg.CacheTTL,
		Concurrency: cfg.SyncConcurrency,
	}, logger)

	// Create MCP server
	server := mcp.NewServer(cfg, engine, logger)
	server.SetVersion(version)

	// Set up signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx)
	}()

	// Wait for shutdown signal or end of input
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("Server error")
		}
	}

	logger.Info("Shutting down mailflow")
}

func openCredentials(cfg *config.Config) (email.CredentialProvider, error) {
	if cfg.Credentials.Backend == config.BackendEnv {
		return credential.NewEnv(), nil
	}
	return credential.OpenKeyring(cfg.Credentials)
}

func storePassword(cfg *config.Config, idOrName string) error {
	accCfg, err := cfg.GetAccount(idOrName)
	if err != nil {
		return err
	}
	account, err := accCfg.Account()
	if err != nil {
		return err
	}

	ring, err := credential.OpenKeyring(cfg.Credentials)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", account.Email)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("empty password")
	}
	return ring.SetPassword(account, password)
}
