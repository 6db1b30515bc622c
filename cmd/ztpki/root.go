package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ztpki/config"
)

var rootCmd = &cobra.Command{
	Use:   "ztpki",
	Short: "zero trust PKI for service-to-service mTLS",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "configuration file")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	viper.SetEnvPrefix("ZTPKI")
	viper.AutomaticEnv()
}

// loadConfig the configured file, or defaults when none was given
func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.Load(path)
	}

	return config.Default(), nil
}
