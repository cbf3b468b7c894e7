package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/internal/mcp"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailcore-server version %s\n", version)
		os.Exit(0)
	}

	// Set up logging; stdout carries the protocol
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	// Load configuration
	cfg, err := config.LoadConfig()
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

	logger.WithField("version", version).Info("Starting mailcore MCP server")

	// Initialize cache
	emailCache, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}
	defer emailCache.Close()

	// Initialize cache store
	cacheStore := cache.NewStore(emailCache, logger)

	// Initialize accounts in cache
	for i := range cfg.Accounts {
		if _, err := cacheStore.UpsertAccount(&cfg.Accounts[i]); err != nil {
			logger.WithError(err).WithField("account", cfg.Accounts[i].Name).Warn("Failed to cache account")
		}
	}

	// Open the credential provider
	creds, err := credential.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open credential store")
	}

	// Initialize email manager
	emailManager, err := email.NewManager(cfg, cacheStore, creds, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create email manager")
	}

	// Create MCP server
	server, err := mcp.NewServer(cfg, emailManager, cacheStore, logger, version)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("Server error")
		}
		cancel()
	}

	logger.Info("Shutting down mailcore MCP server")
}
