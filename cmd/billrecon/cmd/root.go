package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "billrecon",
	Short: "Store billing reconciliation tool",
	Long: `Billrecon turns a spreadsheet of store sales into one billing line per
client: it resolves each store to a client from the directory, applies the
duration rules, flags duplicates, consolidates per client and splits the
totals into invoice, credit note and withholding.

Examples:
  billrecon reconcile --sheet march.xlsx --clients clients.yaml
  billrecon reconcile --sheet march.csv --clients clients.yaml --fiscal nfe.json --output-format csv
  billrecon version`,
	Version:           getVersionString(),
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, yaml, json or toml (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output and debug logging")
	rootCmd.PersistentFlags().String("log-level", string(logger.WarnLevel), "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", string(logger.TextFormat), "log format: text, json")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file instead of stderr")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// initConfig reads the config file and BILLRECON_ variables, then installs
// the global logger.
func initConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("check that the config file exists and is valid yaml, json or toml")
		}
	}

	viper.SetEnvPrefix("BILLRECON")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	log, err := logger.NewLogger(loggerConfig())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", viper.GetString("log-level"), err)
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithField("file", viper.ConfigFileUsed()).Info("Using config file")
	}
	return nil
}

func loggerConfig() *logger.Config {
	config := logger.DefaultConfig()
	config.Level = logger.Level(strings.ToLower(viper.GetString("log-level")))
	config.Format = logger.Format(strings.ToLower(viper.GetString("log-format")))
	if viper.GetBool("verbose") {
		config.Level = logger.DebugLevel
	}
	if file := viper.GetString("log-file"); file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}
	return config
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
