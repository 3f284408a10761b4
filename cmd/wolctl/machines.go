/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gpillon/wol-registry/internal/protocol"
	"github.com/gpillon/wol-registry/pkg/output"
)

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "register NAME MAC",
		Short:   "Register a machine and print its id",
		Example: "  wolctl register desktop 00:11:22:33:44:55",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("name is required")
			}
			// Checked locally for a clearer message; the server validates again
			if _, err := protocol.ParseMACAddress(args[1]); err != nil {
				return err
			}

			id, err := opts.client().Register(cmd.Context(), name, args[1])
			if err != nil {
				return fmt.Errorf("register %s: %w", name, err)
			}

			output.PrintSuccess(cmd.ErrOrStderr(), fmt.Sprintf("Registered %s", name))
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newWakeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "wake ID",
		Short: "Ask the server to send a magic packet to a registered machine",
		Long: `Ask the server to broadcast a Wake-on-LAN magic packet for a registered machine.
Success means the packet was transmitted; WOL has no acknowledgment, so it does
not confirm that the machine woke up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Wake(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("wake %s: %w", args[0], err)
			}
			output.PrintSuccess(cmd.OutOrStdout(), "Wake packet sent")
			return nil
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered machines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			machines, err := opts.client().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			return output.PrintMachines(cmd.OutOrStdout(), machines, format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", output.FormatTable, "Output format: table or json")

	return cmd
}
