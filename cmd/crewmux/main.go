// ABOUTME: Entry point for the crewmux discovery CLI
// ABOUTME: Scans tmux panes for agents and maintains the shared registry file

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"

	"github.com/crewmux/crewmux/internal/config"
	"github.com/crewmux/crewmux/internal/discover"
	"github.com/crewmux/crewmux/internal/journal"
	"github.com/crewmux/crewmux/internal/registry"
	"github.com/crewmux/crewmux/internal/sigpack"
	"github.com/crewmux/crewmux/internal/tmux"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadDefault()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	args := os.Args[1:]
	cmd := "discover"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "discover":
		err = runDiscover(cfg, args)
	case "list":
		err = runList(cfg, args)
	case "lookup":
		err = runLookup(cfg, args)
	case "path":
		err = runPath(cfg)
	case "history":
		err = runHistory(cfg, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		color.Red("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging installs the process-wide slog handler from config.
func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildDiscoverer assembles the discoverer from config. The returned cleanup
// closes the journal if one was opened.
func buildDiscoverer(cfg *config.Config) (*discover.Discoverer, *registry.Store, func(), error) {
	client := tmux.NewClient()
	client.SetTimeout(cfg.Discovery.TmuxTimeout)

	store := registry.NewStore(".")

	packs := []sigpack.Pack{sigpack.Builtin()}
	for _, path := range cfg.Signatures.Packs {
		pack, err := sigpack.LoadFile(path)
		if err != nil {
			return nil, nil, nil, err
		}
		packs = append(packs, pack)
	}
	matcher := sigpack.NewMatcher(packs...)
	matcher.AddCommands(cfg.Signatures.Extra...)

	cleanup := func() {}
	var recorder discover.Recorder
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		recorder = j
		cleanup = func() { j.Close() }
	}

	return discover.New(client, store, matcher, recorder), store, cleanup, nil
}

func runDiscover(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "emit the registry as JSON")
	watch := fs.Duration("watch", 0, "re-run discovery at this interval until interrupted")
	staleThreshold := fs.Duration("stale-threshold", cfg.Discovery.StaleThreshold, "grace period before a quiet agent is stale")
	session := fs.String("session", cfg.Discovery.Session, "restrict discovery to one tmux session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, store, cleanup, err := buildDiscoverer(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := discover.Options{
		SessionFilter:  *session,
		StaleThreshold: *staleThreshold,
	}

	if *watch <= 0 {
		reg, err := d.Refresh(context.Background(), opts)
		if err != nil {
			return err
		}
		return render(reg, store.Path(), *jsonOut)
	}

	return watchLoop(d, store, opts, *watch, *jsonOut)
}

// watchLoop re-runs discovery on an interval and redraws when another
// process replaces the registry file between ticks.
func watchLoop(d *discover.Discoverer, store *registry.Store, opts discover.Options, interval time.Duration, jsonOut bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refresh := func() error {
		reg, err := d.Refresh(ctx, opts)
		if err != nil {
			return err
		}
		if !jsonOut {
			fmt.Print("\033[2J\033[H")
		}
		return render(reg, store.Path(), jsonOut)
	}

	if err := refresh(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting registry watcher: %w", err)
	}
	defer watcher.Close()
	// The first refresh created the registry directory.
	if err := watcher.Add(filepath.Dir(store.Path())); err != nil {
		return fmt.Errorf("watching registry directory: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
			if err := refresh(); err != nil {
				return err
			}
		case event := <-watcher.Events:
			// Another process renamed a new registry into place; redraw
			// from disk without paying for a scan.
			if event.Name != store.Path() || !event.Has(fsnotify.Create|fsnotify.Rename) {
				continue
			}
			reg, err := store.Read()
			if err != nil {
				continue
			}
			if !jsonOut {
				fmt.Print("\033[2J\033[H")
			}
			if err := render(reg, store.Path(), jsonOut); err != nil {
				return err
			}
		case werr := <-watcher.Errors:
			slog.Warn("registry watcher error", "error", werr)
		}
	}
}

func runList(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "emit agents as JSON")
	all := fs.Bool("all", false, "include stale agents")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, store, cleanup, err := buildDiscoverer(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var agents []registry.Agent
	if *all {
		agents, err = d.List()
	} else {
		agents, err = d.ListActive()
	}
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(agents)
	}

	reg, err := store.Read()
	if err != nil {
		return err
	}
	printHeader(reg, store.Path())
	printAgents(agents)
	return nil
}

func runLookup(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "emit the agent as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: crewmux lookup [--json] <agent-id>")
	}

	d, _, cleanup, err := buildDiscoverer(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	agent, err := d.Lookup(fs.Arg(0))
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(agent)
	}
	printAgents([]registry.Agent{*agent})
	return nil
}

func runPath(cfg *config.Config) error {
	_, store, cleanup, err := buildDiscoverer(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	fmt.Println(store.Path())
	return nil
}

func runHistory(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of cycles to show")
	jsonOut := fs.Bool("json", false, "emit cycles as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !cfg.Journal.Enabled {
		return fmt.Errorf("journal is disabled; set journal.enabled: true in crewmux.yaml")
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	cycles, err := j.List(context.Background(), *limit)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(cycles)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tSESSION\tAGENTS\tNEW\tSTALE\tDROPPED\tERROR")
	for _, c := range cycles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			c.StartedAt.Local().Format(time.RFC3339),
			c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond),
			c.SessionName,
			c.AgentsTotal,
			c.AgentsNew,
			c.AgentsStale,
			c.AgentsDropped,
			c.Error,
		)
	}
	return w.Flush()
}

// render prints a full registry in the requested format.
func render(reg *registry.Registry, path string, jsonOut bool) error {
	if jsonOut {
		return printJSON(reg)
	}
	printHeader(reg, path)
	printAgents(reg.Agents)
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printHeader(reg *registry.Registry, path string) {
	cyan := color.New(color.FgCyan)
	session := reg.SessionName
	if session == "" {
		session = "(none)"
	}
	cyan.Printf("session %s: %d agents\n", session, len(reg.Agents))
	if !reg.UpdatedAt.IsZero() {
		fmt.Printf("updated %s, registry %s\n", reg.UpdatedAt.Local().Format(time.RFC3339), path)
	}
	fmt.Println()
}

func printAgents(agents []registry.Agent) {
	if len(agents) == 0 {
		fmt.Println("No agents.")
		return
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tLOCATION\tPID\tSESSION\tLAST SEEN")
	for _, a := range agents {
		status := string(a.Status)
		if a.Status == registry.StatusActive {
			status = green.Sprint(status)
		} else {
			status = yellow.Sprint(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			a.ID,
			status,
			a.Location,
			a.ProcessID,
			a.SessionName,
			a.LastSeen.Local().Format(time.RFC3339),
		)
	}
	w.Flush()
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Println("crewmux: tmux agent discovery and registry")
	fmt.Println()
	fmt.Println("Usage: crewmux [command] [flags]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  discover                Scan tmux panes and update the registry (default)")
	fmt.Println("  list                    Show agents from the registry file (no scan)")
	fmt.Println("  lookup <agent-id>       Show one agent from the registry file")
	fmt.Println("  path                    Print the registry file path")
	fmt.Println("  history                 Show recent discovery cycles from the journal")
	fmt.Println("  version                 Print the version")
	fmt.Println()
	yellow.Println("Discover flags:")
	fmt.Println("  --json                  Emit the registry as JSON")
	fmt.Println("  --watch <interval>      Keep re-running discovery (e.g. --watch 5s)")
	fmt.Println("  --stale-threshold <d>   Grace period before a quiet agent is stale")
	fmt.Println("  --session <name>        Restrict discovery to one tmux session")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  crewmux")
	fmt.Println("  crewmux discover --watch 5s")
	fmt.Println("  crewmux list --json")
	fmt.Println("  crewmux lookup agent-0")
	fmt.Println()
}
