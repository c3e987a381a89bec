// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/template"
)

func newValidateCmd() *cobra.Command {
	var inputsPath string

	cmd := &cobra.Command{
		Use:   "validate TEMPLATE",
		Short: "Check a template and, optionally, its input bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := template.Load(args[0])
			if err != nil {
				return err
			}
			if _, err := tmpl.RunSpec(); err != nil {
				return err
			}
			if inputsPath != "" {
				values, err := template.LoadInputs(inputsPath)
				if err != nil {
					return err
				}
				if _, err := tmpl.Bind(values); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", tmpl.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputsPath, "inputs", "i", "", "YAML file with input values")
	return cmd
}
