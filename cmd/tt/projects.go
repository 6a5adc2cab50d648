package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tasktrack/internal/app"
	"tasktrack/internal/domain"
	"tasktrack/internal/repo"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userShowCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				u, err := ws.Engine.CreateUser(ctx, email, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|email>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				u, err := app.ResolveUser(ctx, ws.Engine.Repo, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys of --user"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				secret := "tt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{ID: uuid.NewString(), UserID: user.ID, Name: name, KeyHash: repo.HashAPIKey(secret)}
				if err := ws.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": secret})
				}
				fmt.Printf("API key %s created for %s\n%s\n", key.ID, user.Email, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				keys, err := ws.Engine.Repo.ListAPIKeys(ctx, user.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return ws.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the projects of --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var userID int64
				if !all {
					user, err := currentUser(ctx, ws.Engine.Repo)
					if err != nil {
						return err
					}
					userID = user.ID
				}
				items, err := ws.Engine.Repo.ListProjects(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Access", "Created")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.AccessLevel, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every project in the workspace")
	return cmd
}

func levelFlag(cmd *cobra.Command, value string) (*domain.AccessLevel, error) {
	if !cmd.Flags().Changed("level") {
		return nil, nil
	}
	l, err := domain.ParseAccessLevel(value)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func projectCreateCmd() *cobra.Command {
	var title, level string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project owned by --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := levelFlag(cmd, level)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				p, err := ws.Engine.CreateProject(ctx, title, lvl, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&level, "level", "", "access level: red, yellow or green")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := currentProject(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var title, level string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Rename the project or change its access level",
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := levelFlag(cmd, level)
			if err != nil {
				return err
			}
			newTitle := optionalString(cmd, "title", title)
			if newTitle == nil && lvl == nil {
				return fmt.Errorf("--title or --level required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				p, err := currentProject(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				updated, err := ws.Engine.UpdateProject(ctx, p.ID, newTitle, lvl, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&level, "level", "", "access level: red, yellow or green")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				p, err := currentProject(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				if err := ws.Engine.DeleteProject(ctx, p.ID, user); err != nil {
					return err
				}
				fmt.Printf("Deleted project %d\n", p.ID)
				return nil
			})
		},
	}
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage project members"}
	m.AddCommand(memberListCmd())
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberRemoveCmd())
	return m
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := currentProject(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				items, err := ws.Engine.Repo.ListMemberships(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("User", "Email", "Name", "Role", "Joined")
				for _, m := range items {
					tw.AppendRow(table.Row{m.UserID, m.Member.Email, m.Member.Name, m.Role, m.JoinedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func memberAddCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add <user id|email>",
		Short: "Add a member or change their role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				actor, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				p, err := currentProject(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				target, err := app.ResolveUser(ctx, ws.Engine.Repo, args[0])
				if err != nil {
					return err
				}
				m, err := ws.Engine.AddMember(ctx, p.ID, target.ID, role, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", domain.RoleMember, "owner or member")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user id|email>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				actor, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				p, err := currentProject(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				target, err := app.ResolveUser(ctx, ws.Engine.Repo, args[0])
				if err != nil {
					return err
				}
				return ws.Engine.RemoveMember(ctx, p.ID, target.ID, actor)
			})
		},
	}
}

func taskTypeCmd() *cobra.Command {
	tt := &cobra.Command{
		Use:   "tasktype",
		Short: "Manage task types and the project allow-list",
	}
	tt.AddCommand(taskTypeListCmd())
	tt.AddCommand(taskTypeCreateCmd())
	tt.AddCommand(taskTypeRenameCmd())
	tt.AddCommand(taskTypeDeleteCmd())
	tt.AddCommand(taskTypeAllowCmd(true))
	tt.AddCommand(taskTypeAllowCmd(false))
	return tt
}

func taskTypeListCmd() *cobra.Command {
	var allowed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var (
					items []domain.TaskType
					err   error
				)
				if allowed {
					p, perr := currentProject(ctx, ws.Engine.Repo)
					if perr != nil {
						return perr
					}
					items, err = ws.Engine.Repo.ListProjectTaskTypes(ctx, p.ID)
				} else {
					items, err = ws.Engine.Repo.ListTaskTypes(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title")
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&allowed, "allowed", false, "only types allowed in the current project")
	return cmd
}

func taskTypeCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				tt, err := ws.Engine.CreateTaskType(ctx, args[0], user)
				if err != nil {
					return err
				}
				return printJSONOrTable(tt)
			})
		},
	}
}

func taskTypeRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a task type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task type id")
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				tt, err := ws.Engine.UpdateTaskType(ctx, id, args[1], user)
				if err != nil {
					return err
				}
				return printJSONOrTable(tt)
			})
		},
	}
}

func taskTypeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task type id")
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				return ws.Engine.DeleteTaskType(ctx, id, user)
			})
		},
	}
}

func taskTypeAllowCmd(allow bool) *cobra.Command {
	use, short := "allow <id>", "Allow a task type in the current project"
	if !allow {
		use, short = "disallow <id>", "Remove a task type from the current project"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task type id")
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				user, err := currentUser(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				p, err := currentProject(ctx, ws.Engine.Repo)
				if err != nil {
					return err
				}
				if !allow {
					return ws.Engine.DisallowTaskType(ctx, p.ID, id, user)
				}
				ptt, err := ws.Engine.AllowTaskType(ctx, p.ID, id, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(ptt)
			})
		},
	}
}
