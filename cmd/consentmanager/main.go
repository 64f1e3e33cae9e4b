package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/config"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/logging"
)

const (
	logLevelKey   = "log.level"
	logFormatKey  = "log.format"
	logNoColorKey = "log.no_color"
)

var (
	configFile string
	v          = viper.New()
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "consentmanager",
	Short: "Consent manager data flow service",
	Long: `consentmanager authorizes health information requests against consent
artefacts and relays them to health information providers through the Gateway.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		if err := logging.Init(logging.Options{
			Level:   loaded.Log.Level,
			Format:  loaded.Log.Format,
			NoColor: loaded.Log.NoColor,
		}); err != nil {
			log.Warn().Err(err).Str("level", loaded.Log.Level).Msg("invalid log level, using info")
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		if used := v.ConfigFileUsed(); used != "" {
			log.Debug().Msgf("using config file: %s", used)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	logging.InitDefault()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"configuration file (default is ./consent-manager.yaml when present)")

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = v.BindPFlag(logLevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	_ = v.BindPFlag(logFormatKey, rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().Bool("no-color", false, "disable color output")
	_ = v.BindPFlag(logNoColorKey, rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("execution failed")
		os.Exit(1)
	}
}
