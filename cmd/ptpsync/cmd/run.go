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
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meshtime/ptpsync/clock"
	"github.com/meshtime/ptpsync/port"
	"github.com/meshtime/ptpsync/stats"
	"github.com/meshtime/ptpsync/transport"
)

var runConfigFlag string

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "/etc/ptpsync.yaml", "path to the config file")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synchronization daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := runDaemon(runConfigFlag); err != nil {
			log.Fatal(err)
		}
	},
}

func runDaemon(cfgPath string) error {
	cfg, err := clock.ReadConfig(cfgPath)
	if err != nil {
		return err
	}
	if !rootVerboseFlag {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}

	sts := stats.NewStats()
	transports := map[uint16]transport.Transport{}
	for _, pc := range cfg.Ports {
		tr, err := transport.NewUDP(pc.UDP, transport.SystemTimestamper{})
		if err != nil {
			return err
		}
		defer tr.Close()
		transports[pc.Port.PortNumber] = tr
	}

	c, err := clock.New(*cfg, clock.Deps{
		Timers:      port.NewSystemTimers(),
		Timestamper: transport.SystemTimestamper{},
		Transports:  transports,
		Stats:       sts,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return c.Run(ctx)
	})
	if cfg.StatsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := reg.Register(stats.NewPrometheusExporter(sts)); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/", sts)
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.StatsAddr, Handler: mux}
		eg.Go(func() error {
			log.Infof("stats server on %s", cfg.StatsAddr)
			return server.ListenAndServe()
		})
		eg.Go(func() error {
			<-ctx.Done()
			return server.Close()
		})
	}
	return eg.Wait()
}
