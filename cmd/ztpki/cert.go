package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"ztpki"
	"ztpki/ca"
)

var certCmd *cobra.Command

func init() {
	certCmd = &cobra.Command{
		Use:   "cert",
		Short: "service certificate operations",
	}
	rootCmd.AddCommand(certCmd)
}

func init() {
	var validityDays int

	cmd := &cobra.Command{
		Use:   "issue <service>",
		Short: "issue a certificate and write it to the certificate directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			authority, err := ca.New(cfg)
			if err != nil {
				return err
			}

			manager, err := ztpki.NewManager(cfg, authority)
			if err != nil {
				return err
			}

			certPEM, keyPEM, err := manager.GenerateCert(cmd.Context(), args[0], validityDays)
			if err != nil {
				return err
			}

			certPath, keyPath, err := manager.SaveCert(args[0], certPEM, keyPEM)
			if err != nil {
				return err
			}

			cmd.Printf("certificate: %s\nprivate key: %s\n", certPath, keyPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&validityDays, "days", 0, "validity in days; 0 uses the rotation interval")

	certCmd.AddCommand(cmd)
}

func init() {
	certCmd.AddCommand(&cobra.Command{
		Use:   "rotate [service...]",
		Short: "rotate certificates inside the expiry threshold; all due services when none given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			authority, err := ca.New(cfg)
			if err != nil {
				return err
			}

			manager, err := ztpki.NewManager(cfg, authority)
			if err != nil {
				return err
			}

			services := args
			if len(services) == 0 {
				services, err = manager.CheckRotationNeeded()
				if err != nil {
					return err
				}
			}

			for _, service := range services {
				rotated, err := manager.RotateCert(cmd.Context(), service)
				if err != nil {
					return err
				}

				if rotated {
					cmd.Printf("%s: rotated\n", service)
				} else {
					cmd.Printf("%s: up to date\n", service)
				}
			}

			return nil
		},
	})
}

func init() {
	certCmd.AddCommand(&cobra.Command{
		Use:   "revoke <service>",
		Short: "revoke the current certificate of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			authority, err := ca.New(cfg)
			if err != nil {
				return err
			}

			manager, err := ztpki.NewManager(cfg, authority)
			if err != nil {
				return err
			}

			return manager.RevokeCert(cmd.Context(), args[0])
		},
	})
}

func init() {
	certCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "show the certificate status of every configured service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			authority, err := ca.New(cfg)
			if err != nil {
				return err
			}

			manager, err := ztpki.NewManager(cfg, authority)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(manager.CertStatus())
		},
	})
}

func init() {
	certCmd.AddCommand(&cobra.Command{
		Use:   "verify <service>",
		Short: "verify the on-disk certificate of a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			authority, err := ca.New(cfg)
			if err != nil {
				return err
			}

			manager, err := ztpki.NewManager(cfg, authority)
			if err != nil {
				return err
			}

			result := manager.VerifyCert(args[0])
			cmd.Printf("%s: %s\n", args[0], result.Status)
			if !result.OK() {
				cmd.Printf("reason: %s\n", result.Reason)
				os.Exit(1)
			}
			return nil
		},
		Args: cobra.ExactArgs(1),
	})
}
