// Copyright (c) 2026 - The Event Horizon authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command dispatchdemo publishes interleaved events of many aggregates on a
// local event bus and projects them into an event store through an async,
// per-aggregate ordered handler. The store rejects any event out of order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	opts := options{}

	rootCmd := &cobra.Command{
		Use:   "dispatchdemo",
		Short: "Dispatch events per aggregate in order",
		Long: "dispatchdemo publishes events of many aggregates concurrently and checks that " +
			"every aggregate is handled in order. Dispatch settings are read from DISPATCHDEMO_* " +
			"environment variables (BATCH_SIZE, RETRY_INTERVAL, MAX_RETRY_INTERVAL, RETRY_POLICY, WORKERS).",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}

			logrus.SetLevel(level)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().IntVar(&opts.aggregates, "aggregates", 10, "Number of aggregates")
	rootCmd.Flags().IntVar(&opts.events, "events", 100, "Number of events per aggregate")
	rootCmd.Flags().StringVar(&opts.envPrefix, "env-prefix", "DISPATCHDEMO", "Prefix of the dispatch settings in the environment")
	rootCmd.Flags().StringVar(&opts.jaegerAgent, "jaeger-agent", os.Getenv("JAEGER_AGENT"), "Jaeger agent address (host:port), tracing is off if empty")
	rootCmd.Flags().StringVar(&opts.httpAddr, "http", "", "Serve events over HTTP and websockets on this address until interrupted")
	rootCmd.Flags().StringVar(&opts.tick, "tick", "*/5 * * * * * *", "Cron line of the clock events published while serving")
	rootCmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
