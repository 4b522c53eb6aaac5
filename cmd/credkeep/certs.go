// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credkeep/internal/tls"
	"github.com/holomush/credkeep/internal/xdg"
)

type certsConfig struct {
	dir        string
	name       string
	hosts      []string
	instanceID string
	newCA      bool
}

// NewCertsCmd creates the certs command group.
func NewCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage gRPC TLS certificates",
	}

	cfg := &certsConfig{}
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Issue a server certificate, creating a private CA if needed",
		Long: `Write {name}.crt and {name}.key signed by the CA in --dir. The CA is
created on first use and reused afterwards unless --new-ca is given.
Point grpc-tls-dir at the directory to serve gRPC over TLS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCertsGenerate(cmd, cfg)
		},
	}
	generate.Flags().StringVar(&cfg.dir, "dir", xdg.CertsDir(), "certificate directory")
	generate.Flags().StringVar(&cfg.name, "name", grpcCertName, "server certificate file name")
	generate.Flags().StringSliceVar(&cfg.hosts, "host", nil, "extra DNS name or IP for the certificate (repeatable)")
	generate.Flags().StringVar(&cfg.instanceID, "instance-id", "", "instance id embedded in a new CA (default: random ULID)")
	generate.Flags().BoolVar(&cfg.newCA, "new-ca", false, "replace an existing CA")
	cmd.AddCommand(generate)

	return cmd
}

func runCertsGenerate(cmd *cobra.Command, cfg *certsConfig) error {
	if err := xdg.EnsureDir(cfg.dir); err != nil {
		return err
	}

	ca, created, err := ensureCA(cfg)
	if err != nil {
		return err
	}

	serverCert, err := tls.GenerateServerCert(ca, cfg.name, cfg.hosts)
	if err != nil {
		return err
	}
	if err := tls.SaveCertificates(cfg.dir, ca, serverCert); err != nil {
		return err
	}

	if created {
		cmd.Printf("Created CA %s\n", filepath.Join(cfg.dir, tls.CACertFile))
	}
	cmd.Printf("Wrote %s\n", filepath.Join(cfg.dir, cfg.name+".crt"))
	return nil
}

// ensureCA loads the CA in cfg.dir, or generates one when none exists or
// cfg.newCA is set. A CA that exists but cannot be read is an error.
func ensureCA(cfg *certsConfig) (*tls.CA, bool, error) {
	_, statErr := os.Stat(filepath.Join(cfg.dir, tls.CACertFile))
	switch {
	case statErr == nil && !cfg.newCA:
		ca, err := tls.LoadCA(cfg.dir)
		return ca, false, err
	case statErr != nil && !errors.Is(statErr, fs.ErrNotExist):
		return nil, false, oops.Code("CERT_LOAD_FAILED").With("dir", cfg.dir).Wrap(statErr)
	}

	instanceID := cfg.instanceID
	if instanceID == "" {
		instanceID = ulid.Make().String()
	}
	ca, err := tls.GenerateCA(instanceID)
	return ca, true, err
}
