package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ventureline/internal/app"
	"ventureline/internal/config"
	"ventureline/internal/db"
	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/repo"
	"ventureline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Ventureline CLI",
	Long: `Ventureline walks a founder from a raw idea to a validated business model.
Core concepts:
- Workspace: the .ventureline directory holding the database; ventureline.yml holds the step catalog.
- Project: one venture, owned by an actor. Its status is set by hand and never derived from steps.
- Steps: the ordered framework catalog (JTBD, Value Proposition Canvas, Business Model Canvas, Pitch).
  A step opens once the previous step is completed.
- Inputs are auto-saved; completing a step stores its generated output in the same write.
- Progress and health: completed steps over the catalog, plus a 0-100 score from steps, data, validation and activity.
- Discovery: a guided funnel that generates business areas, customers, jobs and solutions to pick from.
- Event log: every change, view with 'vl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		// A missing .env is fine.
		_ = godotenv.Load(filepath.Join(workspace, ".env"))
		return nil
	},
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
	viper.SetEnvPrefix("VENTURELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides VENTURELINE_DEFAULT_PROJECT)")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address for discovery sessions")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("redis-addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(noteCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(interviewCmd())
	rootCmd.AddCommand(assumptionCmd())
	rootCmd.AddCommand(discoveryCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default ventureline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if err := writeDefaultConfig(workspace, false); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fmt.Printf("Workspace ready at %s (database %s)\n", workspace, db.Path(workspace))
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage ventureline.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDefaultConfig(viper.GetString("workspace"), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate ventureline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := config.Load(workspace); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", config.Path(workspace))
			return nil
		},
	}
}

func writeDefaultConfig(workspace string, force bool) error {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Printf("%s already exists\n", path)
		return nil
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault(viper.GetString("project"))), 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show completed steps over the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				rep, err := e.Progress(ctx, p.ID, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("%s: %d/%d steps completed (%.0f%%)\n", p.Name, rep.CompletedCount, rep.TotalCount, rep.Percent)
				printDegraded(rep.Degraded)
				return nil
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the project health score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				rep, err := e.Health(ctx, p.ID, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Component", "Score"})
				tw.AppendRow(table.Row{"Steps", fmt.Sprintf("%.1f", rep.Health.StepScore)})
				tw.AppendRow(table.Row{"Data quality", fmt.Sprintf("%.1f", rep.Health.DataQualityScore)})
				tw.AppendRow(table.Row{"Validation", fmt.Sprintf("%.1f", rep.Health.ValidationScore)})
				tw.AppendRow(table.Row{"Activity", fmt.Sprintf("%.1f", rep.Health.ActivityScore)})
				tw.AppendFooter(table.Row{"Health", rep.Health.Score})
				tw.Render()
				printDegraded(rep.Degraded)
				return nil
			})
		},
	}
}

func printDegraded(degraded []string) {
	if len(degraded) > 0 {
		fmt.Printf("warning: could not read %s; the figures above treat them as empty\n", strings.Join(degraded, ", "))
	}
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys for the current actor"}
	key.AddCommand(&cobra.Command{
		Use:   "create [name]",
		Short: "Issue an API key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				k, plain, err := r.IssueAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": k.ID, "key": plain})
				}
				fmt.Printf("API key %s created. It is shown once:\n%s\n", k.ID, plain)
				return nil
			})
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, actorID(), args[0])
			})
		},
	})
	return key
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				events, err := e.ListEvents(ctx, actorID(), repo.EventFilter{
					ProjectID:  p.ID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
				}, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Serves the HTTP API. VENTURELINE_JWT_SECRET verifies bearer tokens; API keys
work without it. Set VENTURELINE_REDIS_ADDR (or --redis-addr) to keep discovery
sessions in Redis across restarts and replicas.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stderr, "", log.LstdFlags)
			e, closeFn, err := app.Open(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				RedisAddr: viper.GetString("redis-addr"),
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer closeFn()
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("VENTURELINE_JWT_SECRET"),
				DevLogin:  devLogin,
				Logger:    logger,
			}
			if authCfg.JWTSecret == "" && devLogin {
				return fmt.Errorf("VENTURELINE_JWT_SECRET is required for --dev-login")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), e, logger)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Ventureline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login to mint tokens (local use only)")
	return cmd
}

// --- helpers ---

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func openEngine(ctx context.Context) (engine.Engine, func() error, error) {
	return app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		RedisAddr: viper.GetString("redis-addr"),
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

// withProject resolves the active project from --project, VENTURELINE_DEFAULT_PROJECT
// or the actor's only project.
func withProject(ctx context.Context, fn func(context.Context, engine.Engine, domain.Project) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		override := viper.GetString("project")
		if override == "" {
			override = viper.GetString("default-project")
		}
		p, err := app.ResolveProject(ctx, e, override, actorID())
		if err != nil {
			return err
		}
		return fn(ctx, e, p)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e.Repo)
	})
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
