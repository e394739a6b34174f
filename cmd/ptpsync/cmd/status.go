/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshtime/ptpsync/stats"
)

var statusServerFlag string

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusServerFlag, "server", "S", "http://localhost:8888", "stats endpoint of a running daemon")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show counters and sync state of a running daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := printStatus(statusServerFlag); err != nil {
			log.Fatal(err)
		}
	},
}

func fetchReport(server string) (*stats.Report, error) {
	c := &http.Client{Timeout: 5 * time.Second}
	resp, err := c.Get(server)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", server, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying %q: status %d", server, resp.StatusCode)
	}
	r := &stats.Report{}
	if err := json.NewDecoder(resp.Body).Decode(r); err != nil {
		return nil, fmt.Errorf("parsing response from %q: %w", server, err)
	}
	return r, nil
}

func printStatus(server string) error {
	r, err := fetchReport(server)
	if err != nil {
		return err
	}

	syncing := false
	fmt.Println(color.CyanString("gauges:"))
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"name", "value"})
	for _, name := range sortedKeys(r.Gauges) {
		table.Append([]string{name, fmt.Sprintf("%.3f", r.Gauges[name])})
		syncing = true
	}
	table.Render()

	fmt.Println(color.CyanString("counters:"))
	table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"name", "value"})
	for _, name := range sortedKeys(r.Counters) {
		table.Append([]string{name, fmt.Sprintf("%d", r.Counters[name])})
	}
	table.Render()

	if syncing {
		fmt.Println(color.GreenString("[ OK ] measurements are flowing"))
	} else {
		fmt.Println(color.YellowString("[WARN] no measurements yet, clock may be the grandmaster"))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
