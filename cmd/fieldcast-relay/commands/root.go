// Package commands defines the relay daemon's CLI.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/relay"
	"github.com/fieldcast/fieldcast/internal/util"
)

var _config config.Relay

// RootCmd is the root command for the signaling relay daemon.
var RootCmd = &cobra.Command{
	Use:     "fieldcast-relay",
	Short:   "Session signaling relay for fieldcast peers",
	PreRunE: loadConfig,
	RunE:    runRelay,
}

func init() {
	RootCmd.Flags().String("addr", ":8090", "Listen address")
	RootCmd.Flags().String("redis-addr", "", "Redis address for the session registry (empty disables it)")
	RootCmd.Flags().String("redis-password", "", "Redis password")
	RootCmd.Flags().Int("redis-db", 0, "Redis database")
	RootCmd.Flags().String("log-level", "info", "debug, info, warn, error, fatal, panic")
	RootCmd.Flags().StringSlice("allowed-origins", nil, "Allowed websocket origins (empty allows all)")
}

// loadConfig binds flags and FIELDCAST_* environment variables into the
// relay configuration.
func loadConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("fieldcast")
	v.AutomaticEnv()

	return v.Unmarshal(&_config)
}

// runRelay starts the relay and waits for a SIGINT or SIGTERM.
func runRelay(cmd *cobra.Command, args []string) error {
	logger := util.NewLogger(_config.LogLevel).WithField("component", "relay")

	server, err := relay.NewServer(_config, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
