// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/credkeep/internal/config"
	"github.com/holomush/credkeep/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the credkeep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credkeep",
		Short: "credkeep - credential and token lifecycle service",
		Long: `credkeep registers users, verifies passwords, issues and refreshes
JWT access tokens, and runs the password reset flow over an HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", xdg.ConfigFile(), "config file path")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCertsCmd())
	cmd.AddCommand(NewHealthCmd())

	return cmd
}

// loadConfig layers the config file, dotenv file, environment and the flags
// of cmd. Files given explicitly on the command line must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	return config.Load(config.LoadOptions{
		ConfigFile:         configFile,
		ConfigFileOptional: !flags.Changed("config"),
		EnvFile:            envFile,
		EnvFileRequired:    flags.Changed("env-file"),
		Flags:              flags,
	})
}
