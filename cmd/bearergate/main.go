// Package main is the entry point for bearergate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	app, err := newApplication(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	if err := app.run(context.Background(), flags.configPath); err != nil {
		logger.Fatal("bearergate stopped with error", observability.Error(err))
	}
}

// parseFlags parses command line flags. Environment variables provide
// the defaults.
func parseFlags(fs *flag.FlagSet, args []string) cliFlags {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("BEARERGATE_CONFIG_PATH", "configs/bearergate.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("BEARERGATE_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("BEARERGATE_LOG_FORMAT", "json"),
		"Log format (json, console)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)

	return f
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("bearergate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GateConfig {
	logger.Info("starting bearergate",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.Strings("allowed_issuers", cfg.Auth.AllowedIssuers),
		observability.String("audience", cfg.Auth.RequiredAudience),
		observability.String("algorithm", cfg.Auth.VerificationAlgorithm),
		observability.String("key_set_store", cfg.Auth.StoreType()),
		observability.Bool("grpc", cfg.GRPC.Enabled),
		observability.Bool("upstream", cfg.Server.Upstream != ""),
	)

	return cfg
}
