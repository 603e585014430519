package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/migrate"
	"taskline/internal/server"
	"taskline/internal/store"
	"taskline/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline is a persistent task queue for autonomous coding-agent runs.
Tasks describe a repository and a goal; workers claim them, hand them to a
coding agent CLI (with automatic fallback between backends), wrap the run in
a git branch/commit/push lifecycle, and enqueue any follow-up work the run
asked for.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(peekCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(doctorCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create workspace, database, and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote default config to %s\n", cfgPath)
			}
			fmt.Printf("Database at %s\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func addCmd() *cobra.Command {
	var (
		title, repoPath, request string
		constraints, acceptance  []string
		preferredProvider        string
		parentTaskID, dependsOn  int64
		priority                 int
		runAfter                 string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(repoPath); err != nil {
				return fmt.Errorf("repo path does not exist: %s", repoPath)
			}
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, ev events.Writer) error {
				t := store.NewTask{
					Title:             title,
					RepoPath:          repoPath,
					Request:           request,
					Constraints:       joinLines(constraints),
					Acceptance:        joinLines(acceptance),
					PreferredProvider: preferredProvider,
					Priority:          priority,
				}
				if parentTaskID > 0 {
					t.ParentTaskID = &parentTaskID
				}
				if dependsOn > 0 {
					t.DependsOnTaskID = &dependsOn
				}
				if runAfter != "" {
					if _, err := time.Parse(domain.ISOFormat, runAfter); err != nil {
						return fmt.Errorf("invalid --run-after (want %s): %w", domain.ISOFormat, err)
					}
					t.RunAfter = &runAfter
				}
				id, err := s.AddTask(ctx, t)
				if err != nil {
					return err
				}
				_ = ev.Append(ctx, "task.added", id, events.EventPayload{"title": title})
				fmt.Printf("Added task %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&repoPath, "repo-path", "", "repository the run operates on")
	cmd.Flags().StringVar(&request, "request", "", "natural-language goal")
	cmd.Flags().StringArrayVar(&constraints, "constraints", []string{}, "constraint line (repeatable)")
	cmd.Flags().StringArrayVar(&acceptance, "acceptance", []string{}, "acceptance criterion (repeatable)")
	cmd.Flags().StringVar(&preferredProvider, "preferred-provider", "claude_first", "provider routing policy")
	cmd.Flags().Int64Var(&parentTaskID, "parent-task-id", 0, "parent task id for chaining")
	cmd.Flags().Int64Var(&dependsOn, "depends-on", 0, "task id this task depends on")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (higher runs first)")
	cmd.Flags().StringVar(&runAfter, "run-after", "", "earliest eligible claim time (UTC)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("repo-path")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ events.Writer) error {
				tasks, err := s.ListTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Pri", "Title", "Repo", "Provider"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Status, t.Priority, t.Title, t.RepoPath, t.ProviderUsed})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ events.Writer) error {
				t, err := s.GetTask(ctx, id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("task %d not found", id)
				}
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func peekCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Preview what the next claim would select",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ events.Writer) error {
				t, err := s.PeekNextTask(ctx)
				if err != nil {
					return err
				}
				if t == nil {
					fmt.Println("No eligible task.")
					return nil
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, ev events.Writer) error {
				changed, err := s.CancelTask(ctx, id)
				if err != nil {
					return err
				}
				if changed {
					_ = ev.Append(ctx, "task.canceled", id, nil)
					fmt.Printf("Canceled task %d\n", id)
				} else {
					fmt.Printf("Task %d not canceled (not queued or missing)\n", id)
				}
				return nil
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run queued tasks with N workers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Queue.Workers
			}
			if workers <= 0 {
				workers = 1
			}
			logger := newLogger(cfg.Log.Level)
			pool := worker.New(store.New(conn), cfg, events.Writer{DB: conn}, logger)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.Info("starting workers", "workers", workers)
			pool.Run(ctx, workers)
			logger.Info("all workers stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of parallel workers (default from config)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store, _ events.Writer) error {
				counts, err := s.CountByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, status := range []string{domain.StatusQueued, domain.StatusRunning, domain.StatusDone, domain.StatusFailed, domain.StatusCanceled} {
					tw.AppendRow(table.Row{status, counts[status]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect queue events"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ store.Store, ev events.Writer) error {
				items, err := ev.Latest(ctx, n, evtType)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			secret := cfg.API.JWTSecret
			if env := os.Getenv("TASKLINE_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("api.jwt_secret (or TASKLINE_JWT_SECRET) is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.API.Addr
			}
			handler, err := server.New(server.Config{
				Store:    store.New(conn),
				Events:   events.Writer{DB: conn},
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func doctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			type check struct {
				ok    bool
				label string
			}
			var checks []check
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				checks = append(checks, check{false, fmt.Sprintf("Config: %v", err)})
			} else {
				checks = append(checks, check{true, fmt.Sprintf("Config at %s", config.Path(workspace))})
				_, dbErr := os.Stat(db.Path(workspace))
				checks = append(checks, check{dbErr == nil, fmt.Sprintf("DB exists at %s", db.Path(workspace))})
				checks = append(checks, check{cfg.Telegram.Configured(), "Telegram configuration"})
				checks = append(checks, check{which(cfg.Provider.ClaudeCommand), "Claude CLI"})
				checks = append(checks, check{which(cfg.Provider.CodexCommand), "Codex CLI"})
				checks = append(checks, check{which([]string{"git"}), "git"})
				checks = append(checks, check{true, fmt.Sprintf("Git enabled: %v", cfg.Git.Enabled)})
			}
			for _, c := range checks {
				status := "OK"
				if !c.ok {
					status = "MISSING"
				}
				fmt.Printf("[%s] %s\n", status, c.label)
			}
			return nil
		},
	}
	return cmd
}

// --- helpers ---

func withStore(ctx context.Context, fn func(context.Context, store.Store, events.Writer) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, store.New(conn), events.Writer{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func joinLines(lines []string) *string {
	if len(lines) == 0 {
		return nil
	}
	joined := strings.Join(lines, "\n")
	return &joined
}

func which(command []string) bool {
	if len(command) == 0 {
		return false
	}
	_, err := exec.LookPath(command[0])
	return err == nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
