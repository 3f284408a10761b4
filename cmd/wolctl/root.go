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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpillon/wol-registry/internal/client"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "0.1.0"

const defaultServer = "127.0.0.1:9876"

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "wolctl",
		Short:         "Register machines and wake them over the LAN",
		Long:          `wolctl talks to a wol-server: it registers machines by name and MAC address and asks the server to broadcast Wake-on-LAN magic packets to them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("WOL_SERVER")
	if server == "" {
		server = defaultServer
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "wol-server address host:port (or WOL_SERVER)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "Timeout for one request")

	cmd.AddCommand(newRegisterCmd(opts))
	cmd.AddCommand(newWakeCmd(opts))
	cmd.AddCommand(newListCmd(opts))

	return cmd
}
