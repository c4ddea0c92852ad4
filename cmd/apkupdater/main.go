package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version  = "0.1.0"
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "apkupdater",
	Short: "APK update checker and installer",
	Long:  `apkupdater - finds newer versions of installed Android apps across catalogs and installs them`,
	// Usage output on every runtime error buries the message.
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("apkupdater v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/apkupdater/apkupdater.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(updatesCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(ignoreCmd)
	rootCmd.AddCommand(modesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(brokerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
