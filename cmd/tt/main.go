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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tasktrack/internal/app"
	"tasktrack/internal/broadcast"
	"tasktrack/internal/config"
	"tasktrack/internal/db"
	"tasktrack/internal/domain"
	"tasktrack/internal/repo"
	"tasktrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "tasktrack CLI",
	Long: `tasktrack keeps project-scoped task boards.
- Project: a board with members and an access level (red, yellow, green).
- Access level: at yellow any member may edit a task and at red any member may
  move it; below those levels only the task's performer may.
- Task: numbered per project, with a type, a performer and collaborators.
- Work: time or value logged against a task.
- Event log: every change, view with 'tt log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("TASKTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "", "acting user (id or email)")
	rootCmd.PersistentFlags().Int64P("project", "p", 0, "project id (defaults to the only project)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(taskTypeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a default tasktrack.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s already exists; keeping it\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			ws, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer ws.Close()
			fmt.Printf("Database ready at %s\n", db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing tasktrack.yml")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ws, err := app.Open(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer ws.Close()
			if addr == "" {
				addr = ws.Config.Server.Addr
			}
			if basePath == "" {
				basePath = ws.Config.Server.BasePath
			}
			logger := log.New(os.Stderr, "", log.LstdFlags)
			authCfg := server.AuthConfig{
				JWTSecret:             viper.GetString("jwt-secret"),
				AllowLegacyUserHeader: allowUserHeader,
				Logger:                logger,
			}
			if authCfg.JWTSecret == "" && !allowUserHeader {
				return fmt.Errorf("TASKTRACK_JWT_SECRET is required for bearer auth")
			}
			hub := broadcast.NewHub(ws.Config.Broadcast.Buffer, logger)
			handler, err := server.New(server.Config{Engine: ws.Engine, Hub: hub, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(ctx, ws.Engine, logger)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving tasktrack API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from tasktrack.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from tasktrack.yml)")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "DEV ONLY: trust X-User-Id without credentials")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("TASKTRACK_JWT_SECRET is required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				token, err := server.SignToken(secret, user.ID, ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := currentProject(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				counts, err := ws.Engine.Repo.CountTasksByStatus(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "task_counts": counts})
				}
				fmt.Printf("Project %d %q (access %s)\n", p.ID, p.Title, p.AccessLevel)
				tw := newTable("Status", "Tasks")
				for _, s := range []string{domain.StatusNew, domain.StatusInProgress, domain.StatusReview, domain.StatusDone, domain.StatusCanceled} {
					tw.AppendRow(table.Row{s, counts[s]})
				}
				tw.Render()
				return nil
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
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				f := repo.EventFilter{Type: evtType, EntityKind: entityKind, EntityID: entityID}
				f.ProjectID = viper.GetInt64("project")
				events, err := ws.Engine.Repo.LatestEventsFrom(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Project", "Entity", "Actor", "Payload")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ProjectID, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
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

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func currentUser(ctx context.Context, r repo.Repo) (domain.User, error) {
	return app.ResolveUser(ctx, r, viper.GetString("user"))
}

func currentProject(ctx context.Context, r repo.Repo) (domain.Project, error) {
	return app.ResolveProject(ctx, r, viper.GetInt64("project"))
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
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

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}
