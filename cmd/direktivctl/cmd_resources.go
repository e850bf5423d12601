// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/direktiv/direktiv-sub000/pkg/direktiv"
)

// =============================================================================
// Services
// =============================================================================

func newServicesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "services",
		Aliases: []string{"svc"},
		Short:   "Inspect namespace services",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List services",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svcs, err := a.client.ListServices(cmd.Context(), a.namespace())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(svcs))
				for _, s := range svcs {
					ready := a.out.styles.success.Render("yes")
					if !s.Ready() {
						ready = a.out.styles.warn.Render("no")
					}
					rows = append(rows, []string{s.ID, s.FilePath, s.Image, strconv.Itoa(s.Scale), ready, orDash(deref(s.Error))})
				}
				return a.out.Result(svcs, []string{"ID", "FILE", "IMAGE", "SCALE", "READY", "ERROR"}, rows)
			},
		},
		&cobra.Command{
			Use:   "rebuild ID",
			Short: "Rebuild a service",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client.RebuildService(cmd.Context(), a.namespace(), args[0]); err != nil {
					return err
				}
				a.out.Success("rebuilding %s", args[0])
				return nil
			},
		},
	)
	return cmd
}

// =============================================================================
// Secrets
// =============================================================================

func newSecretsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage namespace secrets",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List secrets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				secrets, err := a.client.ListSecrets(cmd.Context(), a.namespace())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(secrets))
				for _, s := range secrets {
					rows = append(rows, []string{s.Name, strconv.FormatBool(s.Initialized), formatTime(s.UpdatedAt)})
				}
				return a.out.Result(secrets, []string{"NAME", "INITIALIZED", "UPDATED"}, rows)
			},
		},
		newSecretSetCmd(a),
		&cobra.Command{
			Use:   "rm NAME",
			Short: "Delete a secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.confirm("delete secret " + args[0]); err != nil {
					return err
				}
				if err := a.client.DeleteSecret(cmd.Context(), a.namespace(), args[0]); err != nil {
					return err
				}
				a.out.Success("secret %s deleted", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newSecretSetCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set NAME [VALUE]",
		Short: "Create or overwrite a secret",
		Long:  "Sets a secret from VALUE, from --from-file, or from stdin when neither is given.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.readValue(args[1:], file)
			if err != nil {
				return err
			}
			s, err := a.client.SetSecret(cmd.Context(), a.namespace(), args[0], value)
			if err != nil {
				return err
			}
			a.out.Success("secret %s set", s.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "from-file", "", "read the value from a file")
	return cmd
}

// readValue returns the single positional value, the content of file, or
// stdin, in that order.
func (a *app) readValue(args []string, file string) ([]byte, error) {
	switch {
	case len(args) == 1 && file != "":
		return nil, usageError(errors.New("pass either a value or --from-file, not both"))
	case len(args) == 1:
		return []byte(args[0]), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, usageError(err)
		}
		return data, nil
	default:
		return io.ReadAll(a.stdin)
	}
}

// =============================================================================
// Registries
// =============================================================================

func newRegistriesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "registries",
		Aliases: []string{"reg"},
		Short:   "Manage container registry credentials",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				regs, err := a.client.ListRegistries(cmd.Context(), a.namespace())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(regs))
				for _, r := range regs {
					rows = append(rows, []string{r.ID, r.URL, r.User})
				}
				return a.out.Result(regs, []string{"ID", "URL", "USER"}, rows)
			},
		},
		newRegistryAddCmd(a),
		&cobra.Command{
			Use:   "rm ID",
			Short: "Remove registry credentials",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.confirm("remove registry " + args[0]); err != nil {
					return err
				}
				if err := a.client.DeleteRegistry(cmd.Context(), a.namespace(), args[0]); err != nil {
					return err
				}
				a.out.Success("registry %s removed", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newRegistryAddCmd(a *app) *cobra.Command {
	var in direktiv.CreateRegistryInput
	cmd := &cobra.Command{
		Use:   "add URL",
		Short: "Add registry credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.URL = args[0]
			r, err := a.client.CreateRegistry(cmd.Context(), a.namespace(), in)
			if err != nil {
				return err
			}
			a.out.Success("registry %s added (%s)", r.URL, r.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.User, "user", "", "registry user")
	cmd.Flags().StringVar(&in.Password, "password", "", "registry password or token")
	return cmd
}

// =============================================================================
// Variables
// =============================================================================

func newVariablesCmd(a *app) *cobra.Command {
	var workflow string
	cmd := &cobra.Command{
		Use:     "variables",
		Aliases: []string{"vars"},
		Short:   "Manage namespace and workflow variables",
	}
	cmd.PersistentFlags().StringVar(&workflow, "workflow", "", "use the variables of this workflow")

	var (
		file     string
		mimeType string
	)
	set := &cobra.Command{
		Use:   "set NAME [VALUE]",
		Short: "Create or replace a variable",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.readValue(args[1:], file)
			if err != nil {
				return err
			}
			if mimeType == "" {
				mimeType = "text/plain"
				if file != "" {
					mimeType = guessMimeType(file)
				}
			}
			v, err := a.setVariable(cmd.Context(), workflow, args[0], mimeType, value)
			if err != nil {
				return err
			}
			a.out.Success("variable %s set (%s)", v.Name, formatSize(v.Size))
			return nil
		},
	}
	set.Flags().StringVar(&file, "from-file", "", "read the value from a file")
	set.Flags().StringVar(&mimeType, "mime-type", "", "mime type of the value")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List variables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				vars, err := a.client.ListVariables(cmd.Context(), a.namespace(), workflow)
				if err != nil {
					return err
				}
				return a.out.Result(vars, []string{"NAME", "TYPE", "SIZE"}, variableRows(vars))
			},
		},
		&cobra.Command{
			Use:   "get NAME",
			Short: "Print the value of a variable",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := a.findVariable(cmd.Context(), workflow, args[0])
				if err != nil {
					return err
				}
				detail, err := a.client.GetVariable(cmd.Context(), a.namespace(), v.ID)
				if err != nil {
					return err
				}
				if a.out.format == "json" {
					return a.out.JSON(detail)
				}
				data, err := detail.Content()
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(data)
				return err
			},
		},
		set,
		&cobra.Command{
			Use:   "rm NAME",
			Short: "Delete a variable",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := a.findVariable(cmd.Context(), workflow, args[0])
				if err != nil {
					return err
				}
				if err := a.confirm("delete variable " + v.Name); err != nil {
					return err
				}
				if err := a.client.DeleteVariable(cmd.Context(), a.namespace(), v.ID); err != nil {
					return err
				}
				a.out.Success("variable %s deleted", v.Name)
				return nil
			},
		},
	)
	return cmd
}

func variableRows(vars []direktiv.Variable) [][]string {
	rows := make([][]string, 0, len(vars))
	for _, v := range vars {
		rows = append(rows, []string{v.Name, orDash(v.MimeType), formatSize(v.Size)})
	}
	return rows
}

// findVariable resolves a variable name in the namespace or workflow
// scope. The API addresses variables by id only.
func (a *app) findVariable(ctx context.Context, workflow, name string) (direktiv.Variable, error) {
	vars, err := a.client.ListVariables(ctx, a.namespace(), workflow)
	if err != nil {
		return direktiv.Variable{}, err
	}
	for _, v := range vars {
		if v.Name == name {
			return v, nil
		}
	}
	return direktiv.Variable{}, fmt.Errorf("variable %q: %w", name, errNotFound)
}

func (a *app) setVariable(ctx context.Context, workflow, name, mimeType string, value []byte) (direktiv.VariableDetail, error) {
	data := base64.StdEncoding.EncodeToString(value)
	existing, err := a.findVariable(ctx, workflow, name)
	switch {
	case err == nil:
		return a.client.UpdateVariable(ctx, a.namespace(), existing.ID, direktiv.UpdateVariableInput{
			MimeType: mimeType,
			Data:     data,
		})
	case errors.Is(err, errNotFound):
		return a.client.CreateVariable(ctx, a.namespace(), direktiv.CreateVariableInput{
			Name:         name,
			MimeType:     mimeType,
			Data:         data,
			WorkflowPath: workflow,
		})
	default:
		return direktiv.VariableDetail{}, err
	}
}
