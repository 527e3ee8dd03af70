// timelined is the activity timeline daemon. It watches the capture
// spool for observation batches, synthesizes activity cards through the
// configured model backends, and maintains the day timeline.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/norm/timeline-daemon/internal/analytics"
	"github.com/norm/timeline-daemon/internal/config"
	"github.com/norm/timeline-daemon/internal/pipeline"
	"github.com/norm/timeline-daemon/internal/provider"
	"github.com/norm/timeline-daemon/internal/spool"
	"github.com/norm/timeline-daemon/internal/store"
	"github.com/norm/timeline-daemon/internal/timeline"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "timelined",
		Short:         "Activity timeline synthesis daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/timelined/config.toml)")

	root.AddCommand(runCmd(), generateCmd(), transcribeCmd(), doctorCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("timelined: %v", err)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the spool and process batches until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			sink := analytics.NewEventLog(cfg.LogDir)
			orch, err := provider.Build(cfg, sink)
			if err != nil {
				return err
			}

			watcher, err := spool.NewWatcher(cfg.SpoolDir)
			if err != nil {
				return err
			}
			defer watcher.Close()

			p := pipeline.New(orch, store.NewMemory(), sink, pipeline.Options{
				ScratchDir:   filepath.Join(cfg.StateDir, "scratch"),
				IdleCategory: cfg.IdleCategory(),
				BatchTimeout: cfg.BatchTimeout,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go p.Run(ctx, watcher)
			log.Printf("timelined: watching %s (primary %s)", cfg.SpoolDir, cfg.Providers.Primary)
			return watcher.Start(ctx)
		},
	}
}

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <manifest.json>",
		Short: "Process one batch manifest and print the resulting cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			m, err := spool.LoadManifest(args[0])
			if err != nil {
				return err
			}

			orch, err := provider.Build(cfg, nil)
			if err != nil {
				return err
			}

			st := store.NewMemory()
			p := pipeline.New(orch, st, nil, pipeline.Options{
				IdleCategory: cfg.IdleCategory(),
				BatchTimeout: cfg.BatchTimeout,
			})
			if err := p.ProcessBatch(cmd.Context(), m); err != nil {
				return err
			}

			cards, err := st.CardsInRange(cmd.Context(), m.Day(), timeline.TimeRange{Start: 0, End: 2 * 24 * 60})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cards)
		},
	}
}

func transcribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <manifest.json>",
		Short: "Transcribe one batch's screenshots and print the observations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			m, err := spool.LoadManifest(args[0])
			if err != nil {
				return err
			}

			orch, err := provider.Build(cfg, nil)
			if err != nil {
				return err
			}

			pctx := provider.NewContext(orch.Primary(), m.BatchID)
			obs, _, err := orch.Transcribe(cmd.Context(), pctx, m.Screenshots, time.Unix(int64(m.StartTs), 0))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(obs)
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check backend availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			failed := false
			report := func(name string, err error) {
				mark := "ok"
				if err != nil {
					mark = fmt.Sprintf("FAIL (%v)", err)
					if name == cfg.Providers.Primary {
						failed = true
					}
				}
				note := ""
				switch name {
				case cfg.Providers.Primary:
					note = " [primary]"
				case cfg.Providers.Secondary:
					note = " [secondary]"
				}
				fmt.Printf("%-10s %s%s\n", name, mark, note)
			}

			report("claude", lookPath("claude"))
			report("codex", lookPath("codex"))
			report("anthropic", anthropicReady(cfg))
			report("ollama", ollamaReady(cfg))

			if failed {
				return fmt.Errorf("primary provider %q is not usable", cfg.Providers.Primary)
			}
			return nil
		},
	}
}

func lookPath(tool string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return fmt.Errorf("%s not on PATH", tool)
	}
	return nil
}

func anthropicReady(cfg *config.Config) error {
	if cfg.AnthropicAPIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("no API key configured")
	}
	return nil
}

func ollamaReady(cfg *config.Config) error {
	p, err := provider.Build(&config.Config{
		Providers:  config.Providers{Primary: "ollama"},
		Models:     cfg.Models,
		OllamaURL:  cfg.OllamaURL,
		Categories: cfg.Categories,
	}, nil)
	if err != nil {
		return err
	}
	return p.Primary().Available()
}
