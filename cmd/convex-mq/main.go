package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	serverrun "github.com/gergesh/convex-mq/internal/cmd/server"
	cfgpkg "github.com/gergesh/convex-mq/internal/config"
	"github.com/gergesh/convex-mq/internal/consume"
	"github.com/gergesh/convex-mq/internal/queue"
	"github.com/gergesh/convex-mq/internal/runtime"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "convex-mq",
		Short: "Lease-based message queue node",
		Long:  "convex-mq is a single-binary message queue with claim leases, visibility timeouts and filtered consumption.",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(benchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the queue server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)

			// Flags win over file and env.
			if v, _ := cmd.Flags().GetString("http"); v != "" {
				cfg.HTTPAddr = v
			}
			if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
				cfg.DataDir = v
			}
			if v, _ := cmd.Flags().GetString("fsync"); v != "" {
				cfg.Fsync = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.LogLevel = v
			}
			if v, _ := cmd.Flags().GetString("log-format"); v != "" {
				cfg.LogFormat = v
			}

			return serverrun.Run(cmd.Context(), serverrun.Options{Config: cfg})
		},
	}
	cmd.Flags().String("config", "", "path to JSON config file")
	cmd.Flags().String("http", "", "HTTP listen address")
	cmd.Flags().String("data-dir", "", "data directory")
	cmd.Flags().String("fsync", "", "fsync mode: always|interval|never")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error")
	cmd.Flags().String("log-format", "", "log format: json|text")
	return cmd
}

func benchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Publish and consume messages against a local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			batch, _ := cmd.Flags().GetInt("batch")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			fsync, _ := cmd.Flags().GetString("fsync")

			if dataDir == "" {
				dir, err := os.MkdirTemp("", "convex-mq-bench-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				dataDir = dir
			}

			cfg := cfgpkg.Default()
			cfg.DataDir = dataDir
			cfg.Fsync = fsync
			if err := cfg.Validate(); err != nil {
				return err
			}
			rt, err := runtime.Open(runtime.Options{Config: cfg})
			if err != nil {
				return err
			}
			defer rt.Close()

			q, err := rt.OpenQueue("bench")
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			start := time.Now()
			payloads := make([]json.RawMessage, batch)
			for i := range payloads {
				payloads[i] = json.RawMessage(`{"bench":true}`)
			}
			published := 0
			for published < count {
				n := batch
				if count-published < n {
					n = count - published
				}
				if _, err := q.PublishBatch(ctx, payloads[:n], nil); err != nil {
					return err
				}
				published += n
			}
			pubElapsed := time.Since(start)
			fmt.Printf("published %d messages in %s (%.0f msg/s)\n",
				published, pubElapsed.Round(time.Millisecond), float64(published)/pubElapsed.Seconds())

			start = time.Now()
			done := make(chan struct{})
			handled := 0
			stop := consume.Consume(q, func(ctx context.Context, msgs []queue.Claimed) error {
				handled += len(msgs)
				if handled >= count {
					select {
					case <-done:
					default:
						close(done)
					}
				}
				return nil
			}, consume.Options{BatchSize: batch})
			select {
			case <-done:
			case <-ctx.Done():
			}
			stop()
			conElapsed := time.Since(start)
			fmt.Printf("consumed  %d messages in %s (%.0f msg/s)\n",
				handled, conElapsed.Round(time.Millisecond), float64(handled)/conElapsed.Seconds())
			return nil
		},
	}
	cmd.Flags().Int("count", 10000, "messages to publish and consume")
	cmd.Flags().Int("batch", 100, "batch size for publish and claim")
	cmd.Flags().String("data-dir", "", "data directory (temp dir when empty)")
	cmd.Flags().String("fsync", "never", "fsync mode: always|interval|never")
	return cmd
}
