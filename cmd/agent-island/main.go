// agent-island is a daemon that tracks the live state of coding agent
// sessions: hook notifications arrive over a Unix socket, transcripts are
// tailed from disk, and the merged per-session view is served over HTTP
// and WebSocket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/twistedxcom/agent-island/internal/config"
	"github.com/twistedxcom/agent-island/internal/listener"
	"github.com/twistedxcom/agent-island/internal/logging"
	"github.com/twistedxcom/agent-island/internal/state"
	"github.com/twistedxcom/agent-island/internal/transcript"
	"github.com/twistedxcom/agent-island/internal/watcher"
	"github.com/twistedxcom/agent-island/internal/web"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "agent-island",
		Short:         "Live session state tracker for coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), sessionsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runDaemon(cfg)
		},
	}
}

func runDaemon(cfg *config.Config) error {
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	logging.Init(logging.Config{
		LogDir:     dir,
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logging.Shutdown()

	log := logging.Logger()
	log.Info("starting agent-island",
		"version", version, "socket", cfg.SocketPath, "http", cfg.HTTPAddr)

	parser := transcript.New(cfg.ClaudeConfigDir)
	broadcast := state.NewBroadcaster()
	proc := state.New(parser, broadcast)

	sched := state.NewScheduler(cfg.Debounce(), func(sessionID, cwd string) {
		resync(proc, parser, sessionID, cwd)
	})
	defer sched.Close()
	proc.SetResyncScheduler(sched.Schedule)

	fw, err := watcher.New(sched.Schedule)
	if err != nil {
		return err
	}
	proc.OnTranscriptRegistered(func(sessionID, cwd, path string) {
		if err := fw.Watch(sessionID, cwd, path); err != nil {
			log.Warn("watch transcript failed", "session", sessionID, "error", err)
		}
	})
	proc.OnSessionRemoved(func(sessionID string) {
		sched.Cancel(sessionID)
		fw.Forget(sessionID)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.New(cfg.SocketPath, proc).Run(ctx) })
	g.Go(func() error { return fw.Run(ctx) })
	g.Go(func() error { return web.NewServer(cfg.HTTPAddr, proc, broadcast).Run(ctx) })

	err = g.Wait()
	log.Info("daemon stopped")
	return err
}

// resync is the debounced transcript parse behind every schedule request.
func resync(proc *state.Processor, parser *transcript.Parser, sessionID, cwd string) {
	inc, err := parser.ParseIncremental(sessionID, cwd)
	if err != nil {
		logging.ForComponent(logging.CompTranscript).
			Debug("resync failed", "session", sessionID, "error", err)
		return
	}
	if inc.ClearDetected {
		proc.Dispatch(state.ClearDetected{SessionID: sessionID})
	}
	if len(inc.NewBlocks) == 0 && !inc.ClearDetected {
		return
	}
	proc.Dispatch(state.TranscriptUpdated{
		SessionID:         sessionID,
		CWD:               cwd,
		Blocks:            inc.NewBlocks,
		Incremental:       !inc.ClearDetected,
		CompletedToolIDs:  inc.CompletedToolIDs,
		ToolResults:       inc.ToolResults,
		StructuredResults: inc.StructuredResults,
	})
}

func sessionsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions tracked by a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				addr = cfg.HTTPAddr
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + addr + "/api/sessions")
			if err != nil {
				return fmt.Errorf("query daemon at %s: %w", addr, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned %s", resp.Status)
			}

			var snaps []state.SessionSnapshot
			if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPHASE\tAGENT\tITEMS\tLAST ACTIVITY\tID")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					s.DisplayName, s.Phase, s.Agent, len(s.Items),
					s.LastActivity.Format(time.RFC3339), s.ID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "daemon HTTP address (default from config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "agent-island", version)
		},
	}
}
