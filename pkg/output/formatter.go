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

// Package output renders wolctl results for terminals and scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/gpillon/wol-registry/internal/client"
)

// Formats accepted by PrintMachines
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// PrintSuccess writes msg in green
func PrintSuccess(w io.Writer, msg string) {
	color.New(color.FgGreen).Fprintln(w, msg)
}

// PrintError writes msg in red
func PrintError(w io.Writer, msg string) {
	color.New(color.FgRed).Fprintln(w, "✗ "+msg)
}

// PrintMachines writes machines sorted by name, then id
func PrintMachines(w io.Writer, machines []client.Machine, format string) error {
	sorted := append([]client.Machine(nil), machines...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})

	switch format {
	case FormatJSON:
		if sorted == nil {
			sorted = []client.Machine{}
		}
		data, err := json.MarshalIndent(sorted, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatTable, "":
		if len(sorted) == 0 {
			_, err := fmt.Fprintln(w, "No machines registered")
			return err
		}
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"ID", "Name"})
		for _, m := range sorted {
			table.Append([]string{m.ID, m.Name})
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use %s or %s)", format, FormatTable, FormatJSON)
	}
}
