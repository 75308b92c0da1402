// Command tunserved runs the VPN server: it terminates client TLS
// sessions, assigns virtual addresses, and bridges them to a local TUN
// device.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tunserve/config"
	"tunserve/metrics"
	"tunserve/server"
	"tunserve/tundev"
	"tunserve/utils"
)

func main() {
	var logLevel, logPath, metricsAddr string

	root := &cobra.Command{
		Use:   "tunserved <config-path>",
		Short: "Run the VPN server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], logLevel, logPath, metricsAddr)
		},
	}
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&logPath, "log-path", "", "rotated log file path (empty logs to stderr)")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional address to serve Prometheus metrics on")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, logLevel, logPath, metricsAddr string) error {
	log := utils.NewLogger(utils.LogConfig{Level: logLevel, Path: logPath})
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("tunserved: %w", err)
	}
	if cfg.Server == nil {
		return fmt.Errorf("tunserved: config does not have a [server] section")
	}

	dev, err := tundev.CreateServer(tundev.ServerParams{
		Address: cfg.Server.VirtualAddress,
		Netmask: cfg.Server.SubnetMask,
		MTU:     cfg.Server.MTU,
	})
	if err != nil {
		return fmt.Errorf("tunserved: create tun device: %w", err)
	}

	srv, err := server.New(cfg.Server, &cfg.TLS, dev, log)
	if err != nil {
		_ = dev.Close()
		return fmt.Errorf("tunserved: %w", err)
	}
	// Close the TUN device before stopping the router: the router's
	// TUN-ingress goroutine races its blocked read against the router's
	// own stop signal, but closing the device first is what lets that
	// read return promptly instead of leaking until some later close.
	defer func() {
		_ = dev.Close()
		srv.Close()
	}()

	if metricsAddr != "" {
		stop := metrics.Serve(metricsAddr, log.Named("metrics"))
		defer stop()
	}

	stopCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		close(stopCh)
	}()

	if err := srv.Run(stopCh); err != nil {
		return fmt.Errorf("tunserved: %w", err)
	}
	return nil
}
