package main

import (
	"github.com/spf13/cobra"

	"ztpki"
)

func init() {
	var addr string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "start the PKI distribution server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			return ztpki.Run(cmd.Context(), cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "bind", "127.0.0.1:8000", "listen address")

	rootCmd.AddCommand(cmd)
}
