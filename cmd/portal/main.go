// Command portal serves aggregate descriptives of a federated health data
// collaboration over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strongaya/federated-data-portal/internal/auth"
	"github.com/strongaya/federated-data-portal/internal/collector"
	"github.com/strongaya/federated-data-portal/internal/config"
	portalhttp "github.com/strongaya/federated-data-portal/internal/http"
	"github.com/strongaya/federated-data-portal/internal/openapi"
	"github.com/strongaya/federated-data-portal/internal/platform/health"
	"github.com/strongaya/federated-data-portal/internal/report"
	"github.com/strongaya/federated-data-portal/internal/schema"
	"github.com/strongaya/federated-data-portal/internal/store"
	"github.com/strongaya/federated-data-portal/internal/vantage6"
	pkglog "github.com/strongaya/federated-data-portal/pkg/log"
	"github.com/strongaya/federated-data-portal/pkg/metrics"
)

func main() {
	command := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	var err error
	switch command {
	case "run":
		err = runCmd(args)
	case "validate":
		err = validateCmd(args)
	case "fetch":
		err = fetchCmd(args)
	case "init":
		err = initCmd(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage()
		os.Exit(2)
	}

	_ = pkglog.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: portal <command> [flags]

Commands:
  run       Start the portal server (default)
  validate  Load and validate configuration and schema, then exit
  fetch     Fetch descriptives once and print the summary
  init      Print a sample configuration file
  help      Show this message
`)
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	watchSchema := fs.Bool("watch-schema", true, "reload the schema file when it changes on disk")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.WithPath(*configPath))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := pkglog.Named("portal")
	logger.Infow("starting",
		"port", cfg.HTTP.Port,
		"schema", cfg.Schema.Path,
		"mockMode", cfg.MockMode(),
		"version", cfg.Version,
	)

	initial, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	schemas := schema.NewHolder(initial)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watchSchema {
		schemaCh, schemaErrCh, cancelWatch, err := schema.Watch(ctx, cfg.Schema.Path)
		if err != nil {
			return fmt.Errorf("watch schema: %w", err)
		}
		defer cancelWatch()
		go func() {
			for {
				select {
				case s, ok := <-schemaCh:
					if !ok {
						return
					}
					schemas.Replace(s)
					logger.Infow("schema reloaded", "variables", len(s.Variables()))
				case err, ok := <-schemaErrCh:
					if !ok {
						return
					}
					logger.Errorw("schema reload failed", "error", err)
				}
			}
		}()
	}

	registry := metrics.NewRegistry()
	st := store.New(cfg.Collector.Retention)

	source, probes, err := buildSource(cfg)
	if err != nil {
		return err
	}
	probes = append(probes, health.FileProbe{Name: "schema", Path: cfg.Schema.Path})

	coll := collector.New(source, st, cfg.Collector.RefreshInterval.AsDuration(), collector.NewMetrics(registry))

	var authenticator *auth.Authenticator
	if cfg.Auth.Secret != "" {
		authenticator, err = auth.New(cfg.Auth)
		if err != nil {
			return fmt.Errorf("configure authentication: %w", err)
		}
	} else {
		logger.Warnw("no jwt secret configured, manual refresh endpoint disabled")
	}

	docs := openapi.NewService()
	if err := docs.Validate(ctx); err != nil {
		return err
	}

	server, err := portalhttp.New(portalhttp.Options{
		Config:    cfg,
		Store:     st,
		Schemas:   schemas,
		Collector: coll,
		Checker:   health.NewChecker(probes...),
		Registry:  registry,
		Auth:      authenticator,
		OpenAPI:   docs,
	})
	if err != nil {
		return err
	}

	collectorErr := make(chan error, 1)
	go func() {
		collectorErr <- coll.Run(ctx)
	}()

	err = server.Start(ctx)
	stop()
	<-collectorErr

	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Infow("stopped")
	return nil
}

// buildSource picks the descriptives source and its readiness probes from the
// configuration. Without vantage6 secrets the portal serves the mock result
// file.
func buildSource(cfg config.Config) (collector.Source, []health.Probe, error) {
	if cfg.MockMode() {
		return &collector.FileSource{Path: cfg.Collector.MockResultPath},
			[]health.Probe{health.FileProbe{Name: "mock-result", Path: cfg.Collector.MockResultPath}},
			nil
	}

	client, err := vantage6.New(vantage6.Options{
		BaseURL:                 cfg.Vantage6.ServerBaseURL(),
		Username:                cfg.Vantage6.Username,
		Password:                cfg.Vantage6.Password,
		Collaboration:           cfg.Vantage6.Collaboration,
		AggregatingOrganisation: cfg.Vantage6.AggregatingOrganisation,
		TaskImage:               cfg.Vantage6.TaskImage,
		TaskMethod:              cfg.Vantage6.TaskMethod,
		TaskTimeout:             cfg.Vantage6.TaskTimeout.AsDuration(),
		PrivateKeyPath:          cfg.Vantage6.PrivateKeyPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure vantage6 client: %w", err)
	}

	probe := health.HTTPProbe{
		Name:      "vantage6-server",
		BaseURL:   cfg.Vantage6.ServerBaseURL(),
		Path:      "/health",
		Timeout:   5 * time.Second,
		UserAgent: "federated-data-portal/health",
	}
	return &collector.Vantage6Source{Client: client}, []health.Probe{probe}, nil
}

func validateCmd(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.WithPath(*configPath))
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	s, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return fmt.Errorf("schema invalid: %w", err)
	}

	if err := openapi.NewService().Validate(context.Background()); err != nil {
		return err
	}

	fmt.Printf("configuration ok (port %d, %d schema variables, mock mode %v)\n",
		cfg.HTTP.Port, len(s.Variables()), cfg.MockMode())
	return nil
}

func fetchCmd(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	timeout := fs.Duration("timeout", 15*time.Minute, "abandon the fetch after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.WithPath(*configPath))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	source, _, err := buildSource(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	st := store.New(1)
	coll := collector.New(source, st, cfg.Collector.RefreshInterval.AsDuration(), nil)
	if err := coll.RefreshNow(ctx); err != nil {
		return fmt.Errorf("fetch descriptives: %w", err)
	}

	snap, ok := st.Latest()
	if !ok {
		return fmt.Errorf("fetch produced no snapshot")
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report.Summarise(snap, cfg.Report.SubjectLabel))
}

const sampleConfigYAML = `# Federated data portal configuration.
#
# Credentials for the collaboration server arrive through provisioned
# secrets, not this file. Without secrets the portal serves the configured
# mock result file.
version: ""

http:
  port: 8050
  shutdownTimeout: 15s

schema:
  # Overridden by JSON_FILE_PATH.
  path: /app/schema.json

vantage6:
  taskImage: ghcr.io/strong-aya/triplestore-descriptives:latest
  taskMethod: retrieve_collaboration_descriptives
  taskTimeout: 10m

collector:
  refreshInterval: 6h
  retention: 100
  mockResultPath: example_data/mockresult.json

report:
  subjectLabel: participant

auth:
  # Leave empty to disable the manual refresh endpoint.
  secret: ""
  issuer: ""
  audiences: []

cors:
  allowedOrigins: []

rateLimit:
  window: 60s
  max: 120

metrics:
  enabled: true
`

func initCmd(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	output := fs.String("output", "", "write the sample configuration to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *output == "" {
		fmt.Print(sampleConfigYAML)
		return nil
	}

	if _, err := os.Stat(*output); err == nil {
		return fmt.Errorf("%s already exists", *output)
	}
	if err := os.WriteFile(*output, []byte(sampleConfigYAML), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *output, err)
	}
	fmt.Printf("wrote %s\n", *output)
	return nil
}
