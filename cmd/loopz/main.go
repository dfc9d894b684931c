package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"loopz/internal/app"
	"loopz/internal/config"
	"loopz/internal/domain"
	"loopz/internal/events"
	"loopz/internal/repo"
	"loopz/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "loopz",
	Short: "Loopz CLI",
	Long: `Loopz turns a free-text goal into a loop of concrete tasks.
- Loop: one goal, holding the raw input and an ordered task tree.
- Tasks: steps of a loop; breakdown asks the model for substeps of a task.
- Progress: the share of completed tasks in a loop, 0 to 100.
- Config: loopz.yml in the workspace; LOOPZ_* environment variables override it (LOOPZ_LLM_API_KEY, LOOPZ_AUTH_JWT_SECRET).
- Event log: every change is recorded, view with 'loopz log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LOOPZ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "", "email of the user to act as")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(loopCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var secure bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Config.Auth.JWTSecret == "" {
					return fmt.Errorf("auth.jwt_secret is required; set LOOPZ_AUTH_JWT_SECRET")
				}
				if cmd.Flags().Changed("addr") {
					a.Config.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					a.Config.Server.BasePath = basePath
				}
				handler, err := server.New(server.Config{
					Engine:        a.Engine,
					Auth:          a.Auth,
					BasePath:      a.Config.Server.BasePath,
					Logger:        a.Log.With("component", "http"),
					SecureCookies: secure,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: a.Config.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving", "addr", a.Config.Server.Addr, "base_path", a.Config.Server.BasePath)
				fmt.Printf("Serving Loopz API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", a.Config.Server.Addr, a.Config.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path (overrides server.base_path)")
	cmd.Flags().BoolVar(&secure, "secure-cookies", false, "mark the session cookie Secure")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Println("database schema is up to date")
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage loopz.yml"}
	cfgCmd.AddCommand(configInitCmd())
	cfgCmd.AddCommand(configShowCmd())
	return cfgCmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default loopz.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := config.Write(path, config.Default()); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.LLM.APIKey != "" {
				cfg.LLM.APIKey = "***"
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "***"
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("LOOPZ_PASSWORD")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				user, err := a.Auth.SignUp(ctx, email, password)
				if err != nil {
					return err
				}
				return printJSONOrTable(user)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (or LOOPZ_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func loopCmd() *cobra.Command {
	l := &cobra.Command{Use: "loop", Short: "Manage loops"}
	l.AddCommand(loopGenerateCmd())
	l.AddCommand(loopListCmd())
	l.AddCommand(loopShowCmd())
	l.AddCommand(loopDeleteCmd())
	return l
}

func loopGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <input>",
		Short: "Generate a loop of tasks from free text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args, " ")
			return withUser(cmd.Context(), func(ctx context.Context, a *app.App, user domain.User) error {
				gen, err := a.Engine.GenerateLoop(ctx, user.ID, input)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gen)
				}
				fmt.Printf("loop %s (%d%%)\n", gen.Loop.ID, gen.Progress)
				printTasks(gen.Tasks)
				return nil
			})
		},
	}
}

func loopListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.App, user domain.User) error {
				loops, err := a.Engine.ListLoops(ctx, user.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(loops)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Updated"})
				for _, l := range loops {
					tw.AppendRow(table.Row{l.ID, truncate(l.Title, 48), l.Status, fmt.Sprintf("%d%%", l.Progress), l.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func loopShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <loop-id>",
		Short: "Show a loop with its task tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.App, user domain.User) error {
				view, err := a.Engine.GetLoop(ctx, user.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("%s [%s] %d%%\n", view.Title, view.Status, view.Progress)
				for i, t := range view.Tasks {
					printTaskTree(t, "", i == len(view.Tasks)-1)
				}
				return nil
			})
		},
	}
}

func loopDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <loop-id>",
		Short: "Delete a loop with its tasks and messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.App, user domain.User) error {
				return a.Engine.DeleteLoop(ctx, user.ID, args[0])
			})
		},
	}
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskAddCmd())
	t.AddCommand(taskToggleCmd())
	t.AddCommand(taskBreakdownCmd())
	t.AddCommand(taskDeleteCmd())
	return t
}

func taskAddCmd() *cobra.Command {
	var loopID, parentID string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task to a loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.App, user domain.User) error {
				t, err := a.Engine.AddTask(ctx, user.ID, loopID, optionalString(parentID), strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&loopID, "loop", "", "loop id")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent task id")
	_ = cmd.MarkFlagRequired("loop")
	return cmd
}

func taskToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <task-id>",
		Short: "Flip a task's completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.App, user domain.User) error {
				t, pct, err := a.Engine.ToggleTask(ctx, user.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task": t, "progress": pct})
				}
				fmt.Printf("%s %s (loop %d%%)\n", checkbox(t.IsCompleted), t.Title, pct)
				return nil
			})
		},
	}
}

func taskBreakdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "breakdown <task-id>",
		Short: "Generate substeps for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.App, user domain.User) error {
				kids, err := a.Engine.BreakdownTask(ctx, user.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(kids)
				}
				printTasks(kids)
				return nil
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.App, user domain.User) error {
				return a.Engine.DeleteTask(ctx, user.ID, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var loopID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Repo.LatestEvents(ctx, repo.EventFilters{
					LoopID:     loopID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&loopID, "loop", "", "loop id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	return app.LoadConfig(viper.GetString("workspace"), viper.GetString)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withUser resolves --user and records it as the actor of every change.
func withUser(ctx context.Context, fn func(context.Context, *app.App, domain.User) error) error {
	email := strings.TrimSpace(viper.GetString("user"))
	if email == "" {
		return fmt.Errorf("--user (or LOOPZ_USER) is required")
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		u, err := a.Repo.GetUserByEmail(ctx, strings.ToLower(email))
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("user %s not found; create it with 'loopz user create'", email)
		}
		return fn(events.WithActor(ctx, u.ID), a, *u)
	})
}

func printTasks(tasks []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Title", "Done"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.Position, t.ID, t.Title, checkbox(t.IsCompleted)})
	}
	tw.Render()
}

func printTaskTree(t domain.Task, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s %s  (%s)\n", prefix, connector, checkbox(t.IsCompleted), t.Title, t.ID)
	for i, c := range t.Microsteps {
		printTaskTree(c, newPrefix, i == len(t.Microsteps)-1)
	}
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
