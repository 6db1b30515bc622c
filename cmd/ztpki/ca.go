package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"ztpki/ca"
)

var caCmd *cobra.Command

func init() {
	caCmd = &cobra.Command{
		Use:   "ca",
		Short: "certificate authority operations",
	}
	rootCmd.AddCommand(caCmd)
}

func init() {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "bootstrap the self-signed root CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			authority := ca.NewSelfSigned(cfg)
			if _, _, err := authority.GenerateRootCA(cfg.Organization, 10, force); err != nil {
				return err
			}

			cmd.Printf("CA certificate: %s\n", cfg.CACertPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "regenerate even if a CA already exists")

	caCmd.AddCommand(cmd)
}

func init() {
	caCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "show the CA certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			authority := ca.NewSelfSigned(cfg)
			info := authority.CertificateInfo(cfg.CACertPath())

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(info)
		},
	})
}

func init() {
	caCmd.AddCommand(&cobra.Command{
		Use:   "crl",
		Short: "show revoked serials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			crl := ca.NewRevocationList(cfg.CRLPath())

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(crl.Snapshot())
		},
	})
}
