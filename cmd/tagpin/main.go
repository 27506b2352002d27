package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/tagpin/pkg/api"
	"github.com/cuemby/tagpin/pkg/config"
	"github.com/cuemby/tagpin/pkg/events"
	"github.com/cuemby/tagpin/pkg/log"
	"github.com/cuemby/tagpin/pkg/lookup"
	"github.com/cuemby/tagpin/pkg/resolver"
	"github.com/cuemby/tagpin/pkg/store"
	"github.com/cuemby/tagpin/pkg/types"
)

// Build metadata, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tagpin",
		Short: "Per-workflow container image digest pinning",
		Long: `Tagpin resolves mutable container image tags to immutable content
digests exactly once per workflow, persists each resolution durably, and
serves repeat lookups from memory so re-run tasks observe the digests the
first run pinned.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			log.Setup(level, format == "json", nil)
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("tagpin {{.Version}} (commit %s)\n", commit))

	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "Log format (console or json)")

	root.AddCommand(newServerCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(newPinsCmd())
	return root
}

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the tagpin server",
		Long: `Run the tagpin server: an HTTP API that pins image tags to digests
per workflow, backed by a durable local store (optionally replicated across
nodes for HA).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("listen") {
				cfg.Listen, _ = cmd.Flags().GetString("listen")
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
			}
			if cmd.Flags().Changed("resolver") {
				cfg.Resolver, _ = cmd.Flags().GetString("resolver")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runServer(cfg)
		},
	}

	cmd.Flags().String("config", "", "Path to YAML config file")
	cmd.Flags().String("listen", ":8476", "Address for the HTTP API")
	cmd.Flags().String("data-dir", "./tagpin-data", "Data directory for the pin store")
	cmd.Flags().String("resolver", "registry", "Digest resolver (registry or containerd)")
	return cmd
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve IMAGE",
		Short: "Resolve an image tag to its digest (one-shot, no pinning)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := types.ParseReference(args[0])
			if err != nil {
				return err
			}

			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			digest, err := resolver.NewRegistryResolver().Resolve(ctx, ref)
			if err != nil {
				return err
			}

			fmt.Printf("%s\t%s\n", ref, digest)
			return nil
		},
	}

	cmd.Flags().Duration("timeout", 30*time.Second, "Resolution timeout")
	return cmd
}

func newPinsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pins WORKFLOW",
		Short: "List the pinned digests of a workflow on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")

			resp, err := http.Get(fmt.Sprintf("http://%s/v1/workflows/%s/pins", server, args[0]))
			if err != nil {
				return fmt.Errorf("failed to query server: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s", resp.Status)
			}

			var body struct {
				Workflow string            `json:"workflow"`
				Pins     map[string]string `json:"pins"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}

			for image, digest := range body.Pins {
				fmt.Printf("%s\t%s\n", image, digest)
			}
			return nil
		},
	}

	cmd.Flags().String("server", "127.0.0.1:8476", "Tagpin server address")
	return cmd
}

func runServer(cfg config.Config) error {
	logger := log.WithComponent("server")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	boltStore, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}

	var pinStore store.Store = boltStore
	if cfg.HA.Enabled {
		raftStore, err := store.NewRaftStore(boltStore, store.RaftConfig{
			NodeID:    cfg.HA.NodeID,
			BindAddr:  cfg.HA.BindAddr,
			DataDir:   cfg.DataDir,
			Bootstrap: cfg.HA.Bootstrap,
		})
		if err != nil {
			boltStore.Close()
			return err
		}
		pinStore = raftStore
		logger.Info().Str("node_id", cfg.HA.NodeID).Str("bind_addr", cfg.HA.BindAddr).Msg("HA pin store enabled")
	}
	defer pinStore.Close()

	var res resolver.Resolver
	switch cfg.Resolver {
	case config.ResolverContainerd:
		res = resolver.NewContainerdResolver()
	default:
		res = resolver.NewRegistryResolver()
	}

	broker := events.NewBroker(events.DefaultBuffer)

	// Audit log every pin lifecycle event.
	auditCh, cancelAudit := broker.Subscribe()
	defer cancelAudit()
	go func() {
		auditLogger := log.WithComponent("audit")
		for event := range auditCh {
			auditLogger.Info().
				Str("event", string(event.Type)).
				Str("workflow_id", event.WorkflowID).
				Str("image", event.Image).
				Str("digest", event.Digest).
				Msg(event.Message)
		}
	}()

	registry := lookup.NewRegistry(res, pinStore, cfg.ResolverTimeout, cfg.Backoff, broker)
	defer registry.Close()

	server := api.NewServer(registry, version)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Str("resolver", cfg.Resolver).Msg("Tagpin server started")
		errCh <- server.Start(cfg.Listen)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		return nil
	}
}
