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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/logging"
	"taskboard/internal/migrate"
	"taskboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "kb",
	Short: "Taskboard CLI",
	Long: `Taskboard keeps kanban boards for workspace projects.
- Workspace: a team space with members who join through an invite code.
- Project: owns the tasks shown on one board.
- Board: five columns BACKLOG, TODO, IN_PROGRESS, IN_REVIEW, DONE; tasks are ordered by position.
- Moves: 'kb board move' drags a task and writes the renumbered positions.
- Event log: every change is recorded, view with 'kb log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "data directory holding .taskboard/")
	flags.String("config", "", "config file (default <workspace>/taskboard.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("workspace-id", "", "workspace id (default: your only workspace)")
	flags.String("project", "", "project id (default: the workspace's only project)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "workspace-id", "project"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(workspaceCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func workspaceCmd() *cobra.Command {
	ws := &cobra.Command{Use: "workspace", Short: "Manage workspaces"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a workspace; you become its admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkspace(ctx, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "workspace name")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List your workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListWorkspaces(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Invite code"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.OwnerID, w.InviteCode})
				}
				tw.Render()
				return nil
			})
		},
	}

	var code string
	join := &cobra.Command{
		Use:   "join",
		Short: "Join a workspace with an invite code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.JoinWorkspace(ctx, code, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	join.Flags().StringVar(&code, "code", "", "invite code")
	_ = join.MarkFlagRequired("code")

	reset := &cobra.Command{
		Use:   "reset-invite",
		Short: "Rotate the workspace invite code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				w, err := app.ResolveWorkspace(ctx, e.Repo, viper.GetString("workspace-id"), actor)
				if err != nil {
					return err
				}
				w, err = e.ResetInviteCode(ctx, w.ID, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}

	members := &cobra.Command{
		Use:   "members",
		Short: "List workspace members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := app.ResolveWorkspace(ctx, e.Repo, viper.GetString("workspace-id"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				items, err := e.ListMembers(ctx, w.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"User", "Role", "Joined"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.UserID, m.Role, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	var newName string
	rename := &cobra.Command{
		Use:   "rename",
		Short: "Rename the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, e engine.Engine, workspaceID string) error {
				w, err := e.UpdateWorkspace(ctx, workspaceID, newName, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	rename.Flags().StringVar(&newName, "name", "", "new workspace name")
	_ = rename.MarkFlagRequired("name")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete the workspace with its projects and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, e engine.Engine, workspaceID string) error {
				if err := e.DeleteWorkspace(ctx, workspaceID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted workspace %s\n", workspaceID)
				return nil
			})
		},
	}

	var role string
	setRole := &cobra.Command{
		Use:   "set-role <user-id>",
		Short: "Change a member's role (ADMIN or MEMBER)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, e engine.Engine, workspaceID string) error {
				m, err := e.UpdateMemberRole(ctx, workspaceID, args[0], role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	setRole.Flags().StringVar(&role, "role", "", "ADMIN or MEMBER")
	_ = setRole.MarkFlagRequired("role")

	remove := &cobra.Command{
		Use:   "remove-member <user-id>",
		Short: "Remove a member from the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, e engine.Engine, workspaceID string) error {
				if err := e.RemoveMember(ctx, workspaceID, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Removed %s from workspace %s\n", args[0], workspaceID)
				return nil
			})
		},
	}

	ws.AddCommand(create, list, join, reset, members, rename, del, setRole, remove)
	return ws
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				w, err := app.ResolveWorkspace(ctx, e.Repo, viper.GetString("workspace-id"), actor)
				if err != nil {
					return err
				}
				p, err := e.CreateProject(ctx, w.ID, name, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "project name")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := app.ResolveWorkspace(ctx, e.Repo, viper.GetString("workspace-id"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				items, err := e.ListProjects(ctx, w.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	var newName string
	rename := &cobra.Command{
		Use:   "rename",
		Short: "Rename the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.UpdateProject(ctx, projectID, newName, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	rename.Flags().StringVar(&newName, "name", "", "new project name")
	_ = rename.MarkFlagRequired("name")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete the project and its tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if err := e.DeleteProject(ctx, projectID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted project %s\n", projectID)
				return nil
			})
		},
	}

	prj.AddCommand(create, list, rename, del)
	return prj
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default taskboard.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return cfg
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for --actor-id (needs TASKBOARD_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), viper.GetString("actor-id"), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				if basePath == "" {
					basePath = e.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:        viper.GetString("jwt-secret"),
					AllowActorHeader: allowActorHeader,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowActorHeader {
					return fmt.Errorf("TASKBOARD_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: e.Log})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				e.Log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).Info("serving taskboard API (OpenAPI at /openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without a token (development only)")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := engine.EventFilters{Type: evtType, Limit: n}
				if viper.GetString("project") != "" {
					f.ProjectID = viper.GetString("project")
				}
				items, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	lg.AddCommand(tail)
	return lg
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	pending, err := migrate.Pending(conn)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		log.WithField("migrations", len(pending)).Debug("applying schema migrations")
		if err := migrate.Migrate(conn); err != nil {
			return err
		}
	}
	opts := []engine.Option{engine.WithLogger(log)}
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer rdb.Close()
		opts = append(opts, engine.WithRedis(rdb))
	}
	e := engine.New(conn, cfg, opts...)
	defer e.Close()
	return fn(ctx, e)
}

func withWorkspace(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		w, err := app.ResolveWorkspace(ctx, e.Repo, viper.GetString("workspace-id"), viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, w.ID)
	})
}

func withProject(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		p, err := app.ResolveProject(ctx, e.Repo, viper.GetString("project"), viper.GetString("workspace-id"), viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, p.ID)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
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
