// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/direktiv/direktiv-sub000/pkg/direktiv"
)

func newNamespacesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "namespaces",
		Aliases: []string{"ns"},
		Short:   "Manage namespaces",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List namespaces",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				nss, err := a.client.ListNamespaces(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(nss))
				for _, ns := range nss {
					mirror := "-"
					if ns.Mirror != nil {
						mirror = ns.Mirror.URL + "@" + ns.Mirror.GitRef
					}
					rows = append(rows, []string{ns.Name, mirror, formatTime(ns.CreatedAt)})
				}
				return a.out.Result(nss, []string{"NAME", "MIRROR", "CREATED"}, rows)
			},
		},
		newNamespaceCreateCmd(a),
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete a namespace and everything in it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.confirm("delete namespace " + args[0]); err != nil {
					return err
				}
				if err := a.client.DeleteNamespace(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.out.Success("namespace %s deleted", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "describe [NAME]",
			Short: "Show a namespace with its services, secrets, registries and variables",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := a.namespace()
				if len(args) == 1 {
					name = args[0]
				}
				ov, err := a.client.DescribeNamespace(cmd.Context(), name)
				if err != nil {
					return err
				}
				if a.out.format == "json" {
					return a.out.JSON(ov)
				}
				return printOverview(a.out, ov)
			},
		},
	)
	return cmd
}

func newNamespaceCreateCmd(a *app) *cobra.Command {
	var (
		mirror         direktiv.MirrorInput
		privateKeyFile string
		publicKeyFile  string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a namespace, optionally mirrored from git",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := direktiv.CreateNamespaceInput{Name: args[0]}
			if mirror.URL != "" {
				if mirror.AuthType == "" {
					mirror.AuthType = direktiv.MirrorAuthPublic
				}
				var err error
				if mirror.PublicKey, err = readOptional(publicKeyFile); err != nil {
					return usageError(err)
				}
				if mirror.PrivateKey, err = readOptional(privateKeyFile); err != nil {
					return usageError(err)
				}
				in.Mirror = &mirror
			}
			ns, err := a.client.CreateNamespace(cmd.Context(), in)
			if err != nil {
				return err
			}
			if a.out.format == "json" {
				return a.out.JSON(ns)
			}
			a.out.Success("namespace %s created", ns.Name)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&mirror.URL, "mirror-url", "", "git repository to mirror")
	f.StringVar(&mirror.GitRef, "git-ref", "main", "branch, tag or commit to mirror")
	f.StringVar(&mirror.AuthType, "auth-type", "", "mirror authentication: public, ssh or token")
	f.StringVar(&mirror.AuthToken, "auth-token", "", "access token for token authentication")
	f.StringVar(&publicKeyFile, "public-key-file", "", "public key for ssh authentication")
	f.StringVar(&privateKeyFile, "private-key-file", "", "private key for ssh authentication")
	f.StringVar(&mirror.PrivateKeyPassphrase, "passphrase", "", "private key passphrase")
	f.BoolVar(&mirror.Insecure, "insecure", false, "skip TLS verification of the git server")
	return cmd
}

func printOverview(p *printer, ov direktiv.NamespaceOverview) error {
	p.Line("%s %s", p.styles.header.Render("Namespace:"), ov.Namespace.Name)
	if m := ov.Namespace.Mirror; m != nil {
		p.Line("%s %s@%s", p.styles.header.Render("Mirror:"), m.URL, m.GitRef)
	}
	p.Line("%s %s", p.styles.header.Render("Created:"), formatTime(ov.Namespace.CreatedAt))

	p.Line("\n%s", p.styles.header.Render("Services"))
	rows := make([][]string, 0, len(ov.Services))
	for _, s := range ov.Services {
		rows = append(rows, []string{s.ID, s.Type, s.Image, strconv.Itoa(s.Scale), strconv.FormatBool(s.Ready())})
	}
	if err := p.Table([]string{"ID", "TYPE", "IMAGE", "SCALE", "READY"}, rows); err != nil {
		return err
	}

	p.Line("\n%s", p.styles.header.Render("Secrets"))
	rows = rows[:0]
	for _, s := range ov.Secrets {
		rows = append(rows, []string{s.Name, strconv.FormatBool(s.Initialized)})
	}
	if err := p.Table([]string{"NAME", "INITIALIZED"}, rows); err != nil {
		return err
	}

	p.Line("\n%s", p.styles.header.Render("Registries"))
	rows = rows[:0]
	for _, r := range ov.Registries {
		rows = append(rows, []string{r.URL, r.User})
	}
	if err := p.Table([]string{"URL", "USER"}, rows); err != nil {
		return err
	}

	p.Line("\n%s", p.styles.header.Render("Variables"))
	return p.Table([]string{"NAME", "TYPE", "SIZE"}, variableRows(ov.Variables))
}

// readOptional returns the trimmed content of path, or "" for no path.
func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
