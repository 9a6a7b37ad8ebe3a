// Loresmith is a character and lorebook authoring agent.
//
// It researches a fandom wiki, stores what it reads as documents, and
// builds a character card and lorebook through tool calls made by the
// configured language model. The UI talks to it over a WebSocket; the
// CLI covers one-shot runs and document import. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	loresmith serve                 Start the API server
//	loresmith init [dir]            Initialize a working directory with defaults
//	loresmith ask <message>         Run the agent once and stream the reply
//	loresmith ingest <file>         Import a local file as a research document
//	loresmith usage                 Show token usage and cost
//	loresmith version               Print version and build information
//	loresmith -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/nugget/loresmith/internal/agent"
	"github.com/nugget/loresmith/internal/api"
	"github.com/nugget/loresmith/internal/buildinfo"
	"github.com/nugget/loresmith/internal/config"
	"github.com/nugget/loresmith/internal/fetch"
	"github.com/nugget/loresmith/internal/ingest"
	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/prompts"
	"github.com/nugget/loresmith/internal/search"
	"github.com/nugget/loresmith/internal/store"
	"github.com/nugget/loresmith/internal/tools"
	"github.com/nugget/loresmith/internal/usage"
	"github.com/nugget/loresmith/internal/wiki"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options holds the hand-parsed command line.
type options struct {
	configPath string
	outputFmt  string
	mode       string
	session    string
	command    string
	args       []string
}

// parseArgs parses args by hand. The flag package relies on
// package-level globals, which makes run unsafe to call concurrently
// from tests.
func parseArgs(args []string) (options, bool, error) {
	var o options
	value := func(i *int, name string) (string, bool) {
		a := args[*i]
		if a == name && *i+1 < len(args) {
			*i++
			return args[*i], true
		}
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v, true
		}
		return "", false
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if v, ok := value(&i, "-config"); ok {
			o.configPath = v
			continue
		}
		if v, ok := value(&i, "-o"); ok {
			o.outputFmt = v
			continue
		}
		if v, ok := value(&i, "--output"); ok {
			o.outputFmt = v
			continue
		}
		if v, ok := value(&i, "-mode"); ok {
			o.mode = v
			continue
		}
		if v, ok := value(&i, "-session"); ok {
			o.session = v
			continue
		}
		switch {
		case a == "-h" || a == "-help" || a == "--help":
			return o, true, nil
		case !strings.HasPrefix(a, "-") && o.command == "":
			o.command = a
		case o.command != "":
			o.args = append(o.args, a)
		default:
			return o, false, fmt.Errorf("unknown flag: %s", a)
		}
	}

	if o.outputFmt == "" {
		o.outputFmt = "text"
	}
	if o.outputFmt != "text" && o.outputFmt != "json" {
		return o, false, fmt.Errorf("unknown output format: %q (expected text or json)", o.outputFmt)
	}
	return o, false, nil
}

// run is the real entry point. ctx controls the process lifetime,
// stdout receives command output and stderr receives logs.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	o, help, err := parseArgs(args)
	if err != nil {
		return err
	}
	if help {
		return printUsage(stdout)
	}

	switch o.command {
	case "serve":
		return runServe(ctx, stderr, o.configPath)
	case "init":
		dir := "."
		if len(o.args) > 0 {
			dir = o.args[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(o.args) == 0 {
			return fmt.Errorf("usage: loresmith ask [-mode plan|build] [-session name] <message>")
		}
		return runAsk(ctx, stdout, stderr, o)
	case "ingest":
		if len(o.args) == 0 {
			return fmt.Errorf("usage: loresmith ingest <file>")
		}
		return runIngest(ctx, stdout, stderr, o.configPath, o.args)
	case "usage":
		return runUsage(ctx, stdout, o.configPath, o.outputFmt)
	case "version":
		return runVersion(stdout, o.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", o.command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	b := buildinfo.Current()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	fmt.Fprintln(w, b)
	for _, f := range b.Fields() {
		fmt.Fprintf(w, "  %-10s %s\n", f[0]+":", f[1])
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Loresmith - character and lorebook authoring agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: loresmith [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Start the API server")
	fmt.Fprintln(w, "  init [dir]      Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask <message>   Run the agent once and stream the reply")
	fmt.Fprintln(w, "  ingest <file>   Import markdown, HTML or text files as documents")
	fmt.Fprintln(w, "  usage           Show token usage and cost")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -mode plan|build  Agent mode for ask (default: from config)")
	fmt.Fprintln(w, "  -session <name>   Continue and save a named transcript (ask)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/loresmith/config.yaml, /etc/loresmith/config.yaml")
	return nil
}

// runServe starts the API server and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, logw io.Writer, configPath string) error {
	logger := newLogger(logw, slog.LevelInfo)
	logger.Info("starting Loresmith", "build", buildinfo.Current().String())

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(logw, level)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"research", cfg.Research.WikiURL,
	)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mode, err := prompts.ParseMode(cfg.Agent.Mode)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Config{
		Address:      cfg.Listen.Address,
		Port:         cfg.Listen.Port,
		Settings:     settingsFrom(cfg),
		ResearchURL:  cfg.Research.WikiURL,
		SearchLimit:  cfg.Research.SearchLimit,
		MaxChars:     cfg.Research.MaxChars,
		Mode:         mode,
		MaxSteps:     cfg.Agent.MaxSteps,
		Instructions: cfg.Agent.PresetInstructions(),
	}, newClient(cfg, st, logger), newRegistry(cfg, logger), st, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runAsk runs the agent once against the stored workspace and streams
// the assistant text to stdout. Tool activity is logged to stderr.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, o options) error {
	cfg, _, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stderr, level)

	modeName := o.mode
	if modeName == "" {
		modeName = cfg.Agent.Mode
	}
	mode, err := prompts.ParseMode(modeName)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ws, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}
	ws.ResearchURL = cfg.Research.WikiURL

	var history []agent.Message
	if o.session != "" {
		if err := st.LoadTranscript(ctx, o.session, &history); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load session %q: %w", o.session, err)
		}
	}
	history = append(history, agent.Message{
		ID:   "user-" + uuid.NewString(),
		Role: agent.RoleUser,
		Text: strings.Join(o.args, " "),
	})

	client := newClient(cfg, st, logger)
	settings := settingsFrom(cfg)
	transcript := agent.NewTranscript(history)
	printer := &streamPrinter{w: stdout}

	orch := agent.New(client, newRegistry(cfg, logger),
		agent.WithLogger(logger),
		agent.WithMaxSteps(cfg.Agent.MaxSteps),
		agent.WithHooks(agent.Hooks{
			OnStatus: func(s agent.Status) {
				logger.Debug("status", "status", s)
			},
			OnMessage: func(m agent.Message) {
				transcript.Add(m)
				printer.update(m)
			},
		}),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := orch.Start(ctx, agent.Run{
		Transcript: history,
		Env: tools.Env{
			Workspace:   ws,
			Settings:    &settings,
			Completion:  client,
			Mode:        mode,
			Effects:     st,
			SearchLimit: cfg.Research.SearchLimit,
			MaxChars:    cfg.Research.MaxChars,
		},
		Instructions: cfg.Agent.PresetInstructions(),
	})
	printer.finish()

	if o.session != "" {
		if err := st.SaveTranscript(context.WithoutCancel(ctx), o.session, transcript.Messages()); err != nil {
			return fmt.Errorf("save session %q: %w", o.session, err)
		}
		logger.Info("session saved", "session", o.session)
	}
	if runErr != nil {
		return fmt.Errorf("ask: %w", runErr)
	}
	if orch.Status() == agent.StatusError {
		return fmt.Errorf("ask: run ended in error")
	}
	return nil
}

// streamPrinter writes the growing assistant text of message snapshots
// and one line per completed tool call.
type streamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	id      string
	printed string
	calls   map[string]bool
}

func (p *streamPrinter) update(m agent.Message) {
	if m.Role != agent.RoleAssistant {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if m.ID != p.id {
		p.id, p.printed = m.ID, ""
		p.calls = make(map[string]bool)
	}
	// Provisional text can shrink when a tag closes; only print growth.
	if rest, ok := strings.CutPrefix(m.Text, p.printed); ok && rest != "" {
		fmt.Fprint(p.w, rest)
		p.printed = m.Text
	}
	for _, inv := range m.Invocations {
		if inv.Completed && !p.calls[inv.ID] {
			p.calls[inv.ID] = true
			fmt.Fprintf(p.w, "\n[%s] %s\n", inv.Name, firstLine(inv.Result))
		}
	}
}

func (p *streamPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.w)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// runIngest imports local files as research documents. A file whose
// title matches a stored document replaces it.
func runIngest(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, paths []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stderr, level)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ws, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}

	for _, path := range paths {
		logger.Info("ingesting document", "file", path)
		doc, err := ingest.File(path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}

		verb := "Added"
		if existing, ok := ws.Document(doc.Name); ok {
			doc.ID = existing.ID
			if err := st.UpdateDocument(ctx, doc); err != nil {
				return fmt.Errorf("store %s: %w", path, err)
			}
			ws.ReplaceDocument(doc)
			verb = "Replaced"
		} else {
			if err := st.AddDocument(ctx, doc); err != nil {
				return fmt.Errorf("store %s: %w", path, err)
			}
			ws.AddDocument(doc)
		}
		fmt.Fprintf(stdout, "%s document %q (%s) from %s\n", verb, doc.Name, humanize.Bytes(uint64(doc.Size)), path)
		printOutline(stdout, path)
	}
	return nil
}

// printOutline lists the headings of markdown files.
func printOutline(w io.Writer, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if f, err := ingest.Detect(path, data); err != nil || f != ingest.FormatMarkdown {
		return
	}
	if outline := ingest.FormatOutline(ingest.Outline(data)); outline != "" {
		fmt.Fprintln(w, outline)
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return config.NewLogger(w, level)
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func newRegistry(cfg *config.Config, logger *slog.Logger) *tools.Registry {
	deps := tools.Deps{
		Wiki:    wiki.New(wiki.WithLogger(logger)),
		Fetcher: fetch.New(fetch.WithLogger(logger)),
	}

	if ws := cfg.Research.WebSearch; ws.Configured() {
		mgr := search.NewManager(ws.Provider)
		if ws.SearXNGURL != "" {
			mgr.Register(search.NewSearXNG(ws.SearXNGURL, logger))
		}
		if ws.BraveAPIKey != "" {
			mgr.Register(search.NewBrave(ws.BraveAPIKey, "", logger))
		}
		deps.Web = mgr
		logger.Info("web search enabled", "providers", mgr.Providers())
	}

	reg := tools.NewRegistry(logger)
	tools.RegisterBuiltins(reg, deps)
	return reg
}

// newClient builds the completion transport, recording token usage in
// the workspace database when the usage table is available.
func newClient(cfg *config.Config, st *store.Store, logger *slog.Logger) llm.Client {
	transport := llm.NewTransport(logger)
	us, err := usage.New(st.DB())
	if err != nil {
		logger.Warn("usage tracking disabled", "error", err)
		return transport
	}
	return usage.NewTracker(transport, us, cfg.LLM.Pricing, logger)
}

func settingsFrom(cfg *config.Config) llm.Settings {
	return llm.Settings{
		Provider:    cfg.LLM.Provider,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
}

// Ensure the store satisfies what the API and tools need.
var (
	_ api.Store     = (*store.Store)(nil)
	_ tools.Effects = (*store.Store)(nil)
)
