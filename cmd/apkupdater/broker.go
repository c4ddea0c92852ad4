package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EikeiDev/apkupdateross/internal/broker"
	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/privilege"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the privileged install broker",
	Long: `Runs package manager commands on behalf of local users connecting over the
broker socket. Start it as root (or another user allowed to install packages)
and select the broker install mode in unprivileged sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logFile, err := loadConfig()
		if err != nil {
			return err
		}
		if logFile != nil {
			defer logFile.Close()
		}

		if !privilege.IsRunningAsRoot() {
			log.Warn("broker is not running as root, package manager commands may be refused")
		}

		srv := broker.NewServer(cfg.BrokerSocket, cfg.PackageManager, executor.Runner{}, cfg.BrokerAllowedUIDs)
		if err := srv.Listen(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Broker listening on %s\n", cfg.BrokerSocket)
		if err := srv.Serve(ctx); err != nil {
			return err
		}
		fmt.Println("\nShutting down broker...")
		return nil
	},
}
