// Package main is the flowline CLI: it starts flow runs, inspects the
// run store, and tails run event logs.
//
// Basic usage:
//
//	flowline run --flows flows.yaml my-flow
//	flowline list
//	flowline events <run-id>
//
// Configuration comes from --config (YAML, with $include and ${VAR}
// expansion). API keys are read from the environment by default:
// ANTHROPIC_API_KEY and OPENAI_API_KEY.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/flowline/internal/config"
	"github.com/haasonsaas/flowline/internal/engines"
	"github.com/haasonsaas/flowline/internal/flows"
	"github.com/haasonsaas/flowline/internal/hydrator"
	"github.com/haasonsaas/flowline/internal/navigator"
	"github.com/haasonsaas/flowline/internal/observability"
	"github.com/haasonsaas/flowline/internal/orchestrator"
	"github.com/haasonsaas/flowline/internal/runstore"
	"github.com/haasonsaas/flowline/internal/sidequest"
	"github.com/haasonsaas/flowline/internal/transport"
	"github.com/haasonsaas/flowline/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath     string
	flowsPath      string
	sidequestsPath string
	backendFlag    string
	initiatorFlag  string
	waitFlag       bool
)

func main() {
	root := &cobra.Command{
		Use:           "flowline",
		Short:         "Multi-agent flow orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("FLOWLINE_CONFIG"), "path to configuration file")

	runCmd := &cobra.Command{
		Use:   "run [flow-key...]",
		Short: "Start a run through the given flows",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&flowsPath, "flows", "flows.yaml", "flow bundle file")
	runCmd.Flags().StringVar(&sidequestsPath, "sidequests", "", "sidequest catalog file")
	runCmd.Flags().StringVar(&backendFlag, "backend", "", "backend override: auto, sdk, cli, or stub")
	runCmd.Flags().StringVar(&initiatorFlag, "initiator", "cli", "who started the run")
	runCmd.Flags().BoolVar(&waitFlag, "wait", true, "block until the run reaches a terminal state")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE:  runList,
	}

	eventsCmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print a run's event log",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("flowline %s (commit %s, built %s)\n", version, commit, date)
		},
	}

	root.AddCommand(runCmd, listCmd, eventsCmd, versionCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildOrchestrator wires the full engine from configuration. The
// returned shutdown function flushes tracing and must be called on
// exit.
func buildOrchestrator(cfg *config.Config, bundle *flows.Bundle, catalog *sidequest.Catalog) (*orchestrator.Orchestrator, *runstore.Store, func(context.Context) error, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})

	store, err := runstore.NewStore(cfg.Store.Root, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	var sdk transport.Port
	if provider := buildProvider(cfg); provider != nil {
		sdk = engines.NewSDKEngine(provider, cfg.Engine.Model, 0)
	}
	cli := engines.NewCLIEngine(engines.CLIConfig{
		Binary:  cfg.Engine.CLI.Binary,
		Args:    cfg.Engine.CLI.Args,
		Timeout: cfg.Engine.CLI.Timeout,
		WorkDir: cfg.Engine.CLI.WorkDir,
	})

	var metrics *observability.Metrics
	if cfg.Observability.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = observability.NewMetrics(reg)
		go serveMetrics(cfg.Observability.MetricsAddr, reg)
	}

	chain, err := engines.NewChain(engines.ChainOptions{
		SDK:     sdk,
		CLI:     cli,
		Stub:    engines.NewStubEngine(),
		Mode:    cfg.Engine.Mode,
		Model:   cfg.Engine.Model,
		Sink:    store,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "flowline",
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.TraceEndpoint,
		SamplingRate:   cfg.Observability.TraceSamplingRate,
		EnableInsecure: cfg.Observability.TraceInsecure,
	})

	orch, err := orchestrator.New(orchestrator.Options{
		Store: store,
		Chain: chain,
		Hydrator: hydrator.New(hydrator.Budget{
			TotalChars:  cfg.Hydration.TotalChars,
			RecentChars: cfg.Hydration.RecentChars,
			OlderChars:  cfg.Hydration.OlderChars,
		}, logger),
		Navigator: navigator.New(navigator.Config{
			MaxIterations: cfg.Navigator.MaxIterations,
			StallWindow:   cfg.Navigator.StallWindow,
		}, logger),
		Flows:       bundle.Graphs(),
		Stations:    bundle.StationLibrary(),
		Templates:   bundle.TemplateLibrary(),
		Sidequests:  catalog,
		StallWindow: cfg.Navigator.StallWindow,
		Metrics:     metrics,
		Tracer:      tracer,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return orch, store, shutdown, nil
}

// buildProvider returns the configured SDK provider, nil when no
// credentials are available.
func buildProvider(cfg *config.Config) engines.Provider {
	switch cfg.Engine.Provider {
	case "openai":
		key := cfg.Providers.OpenAI.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil
		}
		p, err := engines.NewOpenAIProvider(engines.OpenAIConfig{
			APIKey:       key,
			BaseURL:      cfg.Providers.OpenAI.BaseURL,
			DefaultModel: cfg.Providers.OpenAI.DefaultModel,
		})
		if err != nil {
			return nil
		}
		return p
	default:
		key := cfg.Providers.Anthropic.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil
		}
		p, err := engines.NewAnthropicProvider(engines.AnthropicConfig{
			APIKey:       key,
			BaseURL:      cfg.Providers.Anthropic.BaseURL,
			DefaultModel: cfg.Providers.Anthropic.DefaultModel,
		})
		if err != nil {
			return nil
		}
		return p
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, "metrics server:", err)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	bundle, err := flows.LoadBundle(flowsPath)
	if err != nil {
		return err
	}
	var catalog *sidequest.Catalog
	if sidequestsPath != "" {
		catalog, err = sidequest.LoadCatalog(sidequestsPath)
		if err != nil {
			return err
		}
	}

	orch, store, shutdown, err := buildOrchestrator(cfg, bundle, catalog)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	spec := models.RunSpec{
		FlowKeys:  args,
		Backend:   models.BackendKind(backendFlag),
		Initiator: initiatorFlag,
	}
	summary, err := orch.Start(cmd.Context(), spec)
	if err != nil {
		return err
	}
	fmt.Println(summary.ID)

	if !waitFlag {
		return nil
	}
	orch.Wait()
	final, err := store.GetSummary(summary.ID)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\n", final.Status)
	if final.Error != "" {
		fmt.Printf("error: %s\n", final.Error)
	}
	if final.Status != models.RunStatusSucceeded {
		os.Exit(1)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Output: os.Stderr})
	store, err := runstore.NewStore(cfg.Store.Root, logger)
	if err != nil {
		return err
	}
	runs, err := store.ListRuns()
	if err != nil {
		return err
	}
	for _, run := range runs {
		status := string(run.Status)
		if run.SDLCStatus == runstore.SDLCLegacy {
			status = runstore.SDLCLegacy
		}
		fmt.Printf("%-36s  %-10s  %s\n", run.ID, status, run.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Output: os.Stderr})
	store, err := runstore.NewStore(cfg.Store.Root, logger)
	if err != nil {
		return err
	}
	events, err := store.ReadEvents(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
