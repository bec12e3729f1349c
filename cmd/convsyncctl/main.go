package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagProfile string
	flagConfig  string
	flagAccount string
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "convsyncctl",
	Short:         "Drive the conversation sync engine for one account",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.convsync/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&flagAccount, "account", "a", "", "account id (default: first configured account)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")

	rootCmd.AddCommand(conversationsCmd, openCmd, sendCmd, unreadCmd, createCmd, deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
