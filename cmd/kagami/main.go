// Package main is the Kagami CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/cli"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/reader"
	"github.com/hyperjump/kagami/internal/remote"
	"github.com/hyperjump/kagami/internal/server"
	"github.com/hyperjump/kagami/internal/store"
	"github.com/hyperjump/kagami/internal/syncer"
	"github.com/hyperjump/kagami/internal/vector"
	"github.com/hyperjump/kagami/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kagami/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kagami server" from the project dir uses the project's config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "sync":
		runStartJob("sync")
	case "embed":
		runStartJob("embeddings")
	case "jobs":
		runJobs()
	case "job":
		runJob()
	case "pause", "resume", "stop":
		runLifecycle(command)
	case "search":
		runSearch()
	case "config":
		runConfig()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kagami version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open cache store", zap.Error(err))
	}
	if err := st.Initialize(context.Background()); err != nil {
		logger.Fatal("Failed to initialize cache store", zap.Error(err))
	}

	var source remote.Source
	if cfg.Remote.BaseURL != "" {
		source = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token())
	} else {
		logger.Warn("remote.base_url is not configured, serving from an empty mock source")
		source = remote.NewMockSource()
	}

	provider := embedding.NewCachedProvider(embedding.NewMockProvider(cfg.Embedding.Dimensions), 10000)
	defer provider.Close()

	index := vector.NewIndex(st)
	hub := syncer.NewHub()
	syncs := syncer.NewSyncOrchestrator(st, source, hub, logger)
	embeddings := syncer.NewEmbeddingOrchestrator(st, index, provider, hub, logger)
	rd := reader.NewReader(st, source, logger)
	scheduler := syncer.NewScheduler(syncs, st, logger)
	scheduler.Start()

	srv := server.NewServer(rd, syncs, embeddings, index, provider, st, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Shutdown order matters: stop accepting work, let running loops observe
	// the signal and finish their page, then close the store.
	logger.Info("Shutting down...")
	scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	if err := syncs.Shutdown(ctx); err != nil {
		logger.Warn("sync orchestrator shutdown timed out", zap.Error(err))
	}
	if err := embeddings.Shutdown(ctx); err != nil {
		logger.Warn("embedding orchestrator shutdown timed out", zap.Error(err))
	}
	hub.Close()
	if err := st.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

type startJobRequest struct {
	EntityTypes  []string `json:"entity_types,omitempty"`
	BatchSize    int      `json:"batch_size,omitempty"`
	UpdatedSince string   `json:"updated_since,omitempty"`
	Concurrency  int      `json:"concurrency,omitempty"`
}

// runStartJob starts a sync or embedding job; positional args are entity types.
func runStartJob(family string) {
	fs := flag.NewFlagSet(family, flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	batchSize := fs.Int("batch-size", 0, "records per page (0 = server default)")
	updatedSince := fs.String("updated-since", "", "only sync records updated after this RFC 3339 timestamp")
	concurrency := fs.Int("concurrency", 0, "entity-type fan-out for this job")
	_ = fs.Parse(os.Args[2:])

	req := startJobRequest{
		EntityTypes: fs.Args(),
		BatchSize:   *batchSize,
	}
	if family == "sync" {
		req.UpdatedSince = *updatedSince
		req.Concurrency = *concurrency
	}

	var out struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := postJSON(*serverURL+"/api/v1/"+family, req, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start job: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Job %s started (%s)\n", out.JobID, out.Status)
}

func runJobs() {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	family := fs.String("family", "sync", "job family: sync or embeddings")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := mustFormat(*outputFormat)
	var out struct {
		Jobs []*models.Job `json:"jobs"`
	}
	if err := getJSON(*serverURL+"/api/v1/"+*family+"/active", &out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list jobs: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteJobs(os.Stdout, out.Jobs, format)
}

func runJob() {
	fs := flag.NewFlagSet("job", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	family := fs.String("family", "sync", "job family: sync or embeddings")
	outputFormat := fs.String("output", "text", "output format: text or json")
	history := fs.Bool("history", false, "also print job history")
	historyLimit := fs.Int("history-limit", 50, "history rows to fetch")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kagami job [flags] <job-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	format := mustFormat(*outputFormat)
	var job models.Job
	if err := getJSON(fmt.Sprintf("%s/api/v1/%s/%s", *serverURL, *family, id), &job); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get job: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteJob(os.Stdout, &job, format)

	if *history {
		var out struct {
			History []*models.HistoryEntry `json:"history"`
		}
		url := fmt.Sprintf("%s/api/v1/%s/%s/history?limit=%d", *serverURL, *family, id, *historyLimit)
		if err := getJSON(url, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get history: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		_ = cli.WriteHistory(os.Stdout, out.History, format)
	}
}

func runLifecycle(verb string) {
	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	family := fs.String("family", "sync", "job family: sync or embeddings")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: kagami %s [flags] <job-id>\n", verb)
		os.Exit(1)
	}
	id := fs.Arg(0)

	var out struct {
		Status string `json:"status"`
	}
	url := fmt.Sprintf("%s/api/v1/%s/%s/%s", *serverURL, *family, id, verb)
	if err := postJSON(url, nil, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to %s job: %v\n", verb, err)
		os.Exit(1)
	}
	fmt.Printf("Job %s: %s\n", id, out.Status)
}

type searchRequest struct {
	Query       string   `json:"query"`
	EntityTypes []string `json:"entity_types,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	limit := fs.Int("limit", 0, "number of results (0 = server default)")
	threshold := fs.Float64("threshold", 0.3, "minimum similarity")
	types := fs.String("types", "", "comma-separated entity types to search")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Fprintln(os.Stderr, "Usage: kagami search [flags] <query>")
		os.Exit(1)
	}
	format := mustFormat(*outputFormat)

	req := searchRequest{Query: queryStr, Limit: *limit, Threshold: *threshold}
	if *types != "" {
		req.EntityTypes = strings.Split(*types, ",")
	}
	var out struct {
		Matches []*models.SearchMatch `json:"matches"`
	}
	if err := postJSON(*serverURL+"/api/v1/search", req, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteMatches(os.Stdout, out.Matches, format)
}

// runConfig lists all settings, gets one, or sets one, depending on arity.
func runConfig() {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)

	switch fs.NArg() {
	case 0:
		var out struct {
			Settings []*models.ServerSetting `json:"settings"`
		}
		if err := getJSON(*serverURL+"/api/v1/config", &out); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list settings: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteSettings(os.Stdout, out.Settings, format)
	case 1:
		var setting models.ServerSetting
		if err := getJSON(*serverURL+"/api/v1/config/"+fs.Arg(0), &setting); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get setting: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteSettings(os.Stdout, []*models.ServerSetting{&setting}, format)
	default:
		body := map[string]string{"value": fs.Arg(1)}
		if err := putJSON(*serverURL+"/api/v1/config/"+fs.Arg(0), body, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to set setting: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s = %s\n", fs.Arg(0), fs.Arg(1))
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)

	var health models.HealthStatus
	if err := getJSON(*serverURL+"/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(1)
	}
	if format == cli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(health)
		return
	}
	fmt.Printf("Connected:     %v\n", health.Connected)
	fmt.Printf("Storage bytes: %d\n", health.StorageBytes)
	fmt.Printf("Tables:        %d\n", health.TableCount)
	fmt.Printf("Jobs:          %d\n", health.JobCount)
	if !health.LastActivity.IsZero() {
		fmt.Printf("Last activity: %s\n", health.LastActivity.Format("2006-01-02 15:04:05"))
	}
	if health.Error != "" {
		fmt.Printf("Error:         %s\n", health.Error)
	}
}

func mustFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func postJSON(url string, body, out interface{}) error {
	return sendJSON(http.MethodPost, url, body, out)
}

func putJSON(url string, body, out interface{}) error {
	return sendJSON(http.MethodPut, url, body, out)
}

func sendJSON(method, url string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Print(`Kagami - local cache and sync engine for the product-management API

Usage: kagami <command> [flags]

Commands:
  server    Run the cache server
  sync      Start a sync job (positional args: entity types, default all)
  embed     Start an embedding job
  jobs      List active jobs (-family sync|embeddings)
  job       Show one job (-history to include its audit trail)
  pause     Pause a running or queued job
  resume    Resume a paused job
  stop      Stop a job
  search    Similarity search over cached entities
  config    List, get, or set server settings
  status    Show cache health
  version   Print version
  help      Show this help

Run "kagami <command> -h" for command flags.
`)
}
