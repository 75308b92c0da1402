// Command tunservec runs the VPN client: it connects to a server over
// mutually authenticated TLS, receives its virtual network configuration,
// and pumps IP traffic through a local TUN device.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tunserve/client"
	"tunserve/config"
	"tunserve/stopsignal"
	"tunserve/utils"
)

func main() {
	var logLevel, logPath string

	root := &cobra.Command{
		Use:   "tunservec <config-path>",
		Short: "Run the VPN client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], logLevel, logPath)
		},
	}
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&logPath, "log-path", "", "rotated log file path (empty logs to stderr)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, logLevel, logPath string) error {
	log := utils.NewLogger(utils.LogConfig{Level: logLevel, Path: logPath})
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("tunservec: %w", err)
	}
	if cfg.Client == nil {
		return fmt.Errorf("tunservec: config does not have a [client] section")
	}

	c := client.New(cfg.Client, &cfg.TLS, log)

	stop := stopsignal.New()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("stopping")
		stop.Raise()
	}()

	if err := c.Run(stop); err != nil {
		return fmt.Errorf("tunservec: %w", err)
	}
	return nil
}
