// Package main is the entry point for the groundex CLI: grounded
// structured extraction from text, files, and URLs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "groundex",
	Short: "Turn unstructured text into grounded, typed extractions",
	Long: `groundex orchestrates a language model over arbitrarily large
documents and returns typed extractions, each anchored to a character
interval in the source. Extraction classes are defined entirely by the
few-shot examples you supply.

Single calls run through "groundex extract"; multi-step DAG workflows
run through "groundex pipeline run".`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./groundex.yaml or ~/.config/groundex/groundex.yaml)")
	rootCmd.PersistentFlags().String("model", "gemini-2.5-flash", "model id for the Gemini provider")
	rootCmd.PersistentFlags().String("api-key", "", "Gemini API key (or GROUNDEX_API_KEY / GEMINI_API_KEY)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	_ = viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("groundex")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "groundex"))
		}
	}

	viper.SetEnvPrefix("GROUNDEX")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// apiKey resolves the provider key from flags, config, and the
// conventional environment variables.
func apiKey() string {
	if key := viper.GetString("api_key"); key != "" {
		return key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("GOOGLE_API_KEY")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
