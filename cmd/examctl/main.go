// Command examctl is the operator tool for the exam core: schema migrations,
// one-off deadline sweeps and local test tokens.
package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stemsi/examcore/internal/config"
	"github.com/stemsi/examcore/internal/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examctl",
		Short:        "Operator commands for the exam core",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	pf.String("redis-url", "", "Redis URL (overrides REDIS_URL)")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (pretty, json)")

	root.AddCommand(migrateCmd(), sweepCmd(), tokenCmd())
	return root
}

// viperForCmd binds a command's flags and the environment to a fresh viper instance.
// A flag "database-url" reads DATABASE_URL when unset.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.InheritedFlags())

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig starts from the server configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger) {
	cfg := config.Load()
	v := viperForCmd(cmd)

	if s := v.GetString("database-url"); s != "" {
		cfg.DatabaseURL = s
	}
	if s := v.GetString("redis-url"); s != "" {
		cfg.RedisURL = s
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("log-format"); s != "" {
		cfg.LogFormat = s
	}

	return cfg, logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}
