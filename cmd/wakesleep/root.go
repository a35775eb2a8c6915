package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fgeck/wakesleep/internal/config"
	"github.com/fgeck/wakesleep/internal/models"
	"github.com/fgeck/wakesleep/internal/services/manager"
	"github.com/fgeck/wakesleep/internal/services/registry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "wakesleep",
	Short: "Wake up and put to sleep the machines on your network",
	Long: `wakesleep keeps a small registry of network devices and toggles their power state:
  - Wake-on-LAN magic packets to wake sleeping machines
  - SSH with OS detection to put Linux, macOS and Windows machines to sleep
  - TCP and ICMP probing to tell which machines are awake
  - ARP, reverse DNS and mDNS discovery to register new machines`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default "+config.DefaultFile()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(wakeCmd)
	rootCmd.AddCommand(sleepCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Logs go to stderr so tables on stdout stay clean.
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}

// app bundles what every command needs.
type app struct {
	cfg     *models.AppConfig
	store   *registry.Store
	manager *manager.Impl
}

func loadApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := registry.Open(log.Logger, cfg.Registry.Path)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.Registry.Path).Msg("failed to open device registry")
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   store,
		manager: manager.New(log.Logger, cfg, store),
	}, nil
}

func loadConfig() (*models.AppConfig, error) {
	cfg, err := config.NewParser().Load(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// failures is returned by batch commands when at least one device failed.
type failures int

func (f failures) Error() string {
	if f == 1 {
		return "1 device failed"
	}
	return fmt.Sprintf("%d devices failed", int(f))
}

func batchResult(failed int) error {
	if failed == 0 {
		return nil
	}
	return failures(failed)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
