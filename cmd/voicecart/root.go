package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ent0n29/voicecart/internal/config"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "voicecart",
		Short:         "Voice command interpreter and guided checkout for storefronts",
		Long:          "voicecart turns spoken shopping commands into storefront actions and walks shoppers through checkout by voice.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "Log level: debug|info|warn|error (env LOG_LEVEL)")
	flags.String("log-format", "", "Log format: text|json (env LOG_FORMAT)")
	flags.String("phrases", "", "YAML file overriding the built-in phrase lists (env PHRASES_FILE)")
	flags.String("oracle-mode", "", "Oracle backend: auto|anthropic|http|mock (env ORACLE_MODE)")
	flags.String("profile-store", "", "Profile store: auto|memory|file|postgres (env PROFILE_STORE)")
	flags.String("profile-path", "", "TOML profile file for the file store (env PROFILE_PATH)")
	bindFlags(v, rootCmd, map[string]string{
		"LOG_LEVEL":     "log-level",
		"LOG_FORMAT":    "log-format",
		"PHRASES_FILE":  "phrases",
		"ORACLE_MODE":   "oracle-mode",
		"PROFILE_STORE": "profile-store",
		"PROFILE_PATH":  "profile-path",
	}, true)

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(v),
		newSimulateCmd(v),
		newListenCmd(),
	)
	return rootCmd
}

// bindFlags maps environment keys to flags so that a set flag beats the
// environment and an unset one falls through to it.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for key, name := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func loadConfig(v *viper.Viper) (config.Config, error) {
	return config.LoadFrom(v.GetString)
}
