package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tasktrack/internal/app"
	"tasktrack/internal/domain"
	"tasktrack/internal/engine"
	"tasktrack/internal/server"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are numbered per project and flow new -> in_progress -> review -> done (canceled is an exit). Editing follows the project access level; moving only needs red.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

// taskFields holds the flags shared by create and update. Association flags
// take 0 (or an empty list) to clear.
type taskFields struct {
	title, description, source, status string
	value, typeID, performerID         int64
	users                              []int64
}

func (f *taskFields) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "title")
	cmd.Flags().StringVar(&f.description, "description", "", "description")
	cmd.Flags().StringVar(&f.source, "source", "", "source reference")
	cmd.Flags().StringVar(&f.status, "status", "", "status")
	cmd.Flags().Int64Var(&f.value, "value", 0, "value estimate")
	cmd.Flags().Int64Var(&f.typeID, "type", 0, "task type id (0 clears)")
	cmd.Flags().Int64Var(&f.performerID, "performer", 0, "performer user id (0 clears)")
	cmd.Flags().Int64SliceVar(&f.users, "users", nil, "collaborator user ids (empty clears)")
}

func (f *taskFields) changed(cmd *cobra.Command) bool {
	for _, name := range []string{"title", "description", "source", "status", "value", "type", "performer", "users"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func (f *taskFields) mutation(cmd *cobra.Command) domain.TaskMutation {
	m := domain.TaskMutation{
		Title:       optionalString(cmd, "title", f.title),
		Description: optionalString(cmd, "description", f.description),
		Source:      optionalString(cmd, "source", f.source),
		Status:      optionalString(cmd, "status", f.status),
	}
	if cmd.Flags().Changed("value") {
		v := f.value
		m.Value = &v
	}
	if cmd.Flags().Changed("type") {
		m.TypeID = domain.SetID(f.typeID)
	}
	if cmd.Flags().Changed("performer") {
		m.PerformerID = domain.SetID(f.performerID)
	}
	if cmd.Flags().Changed("users") {
		m.Users = domain.SetIDs(f.users)
	}
	return m
}

// withTaskContext resolves the acting user and project and builds the task
// service for them.
func withTaskContext(ctx context.Context, fn func(context.Context, *app.Workspace, domain.Project, domain.User) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		user, err := currentUser(ctx, ws.Engine.Repo)
		if err != nil {
			return err
		}
		p, err := currentProject(ctx, ws.Engine.Repo)
		if err != nil {
			return err
		}
		if _, err := ws.Engine.Repo.FindMembership(ctx, p.ID, user.ID); err != nil {
			return fmt.Errorf("%s is not a member of project %d", user.Email, p.ID)
		}
		return fn(ctx, ws, p, user)
	})
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	return printTasks([]domain.Task{t}, 1)
}

func printTasks(tasks []domain.Task, total int) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"list": tasks, "total": total})
	}
	tw := newTable("#", "Title", "Status", "Pos", "Type", "Performer", "Users")
	for _, t := range tasks {
		typ, performer := "", ""
		if t.Type != nil {
			typ = t.Type.Title
		}
		if t.Performer != nil {
			performer = t.Performer.Email
		}
		tw.AppendRow(table.Row{t.SequenceNumber, t.Title, t.Status, t.Position, typ, performer, len(t.Users)})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d total", total)})
	tw.Render()
	return nil
}

func taskListCmd() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, _ domain.User) error {
				res, err := server.NewTaskService(ws.Engine, nil).List(ctx, p.ID, domain.Page{Offset: offset, Limit: limit})
				if err != nil {
					return err
				}
				return printTasks(res.List, res.Total)
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many tasks")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default from tasktrack.yml)")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var f taskFields
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, user domain.User) error {
				t, err := server.NewTaskService(ws.Engine, nil).Create(ctx, f.mutation(cmd), p, user)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <seq>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseID(args[0], "task number")
			if err != nil {
				return err
			}
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, _ domain.User) error {
				t, err := server.NewTaskService(ws.Engine, nil).GetOne(ctx, seq, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var f taskFields
	cmd := &cobra.Command{
		Use:   "update <seq>",
		Short: "Update a task; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseID(args[0], "task number")
			if err != nil {
				return err
			}
			if !f.changed(cmd) {
				return fmt.Errorf("nothing to update")
			}
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, user domain.User) error {
				t, err := server.NewTaskService(ws.Engine, nil).Update(ctx, seq, f.mutation(cmd), p, user)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var status string
	var position int64
	cmd := &cobra.Command{
		Use:   "move <seq>",
		Short: "Move a task to another status or position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseID(args[0], "task number")
			if err != nil {
				return err
			}
			move := domain.TaskMove{Status: optionalString(cmd, "status", status)}
			if cmd.Flags().Changed("position") {
				move.Position = &position
			}
			if move.Status == nil && move.Position == nil {
				return fmt.Errorf("--status or --position required")
			}
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, user domain.User) error {
				t, err := server.NewTaskService(ws.Engine, nil).Move(ctx, seq, p, user, move)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().Int64Var(&position, "position", 0, "new board position")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <seq>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseID(args[0], "task number")
			if err != nil {
				return err
			}
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, user domain.User) error {
				t, deleted, err := server.NewTaskService(ws.Engine, nil).Delete(engine.WithActor(ctx, user.ID), seq, p.ID)
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("task %d not found", seq)
				}
				fmt.Printf("Deleted task %d %q\n", t.SequenceNumber, t.Title)
				return nil
			})
		},
	}
}

func workCmd() *cobra.Command {
	w := &cobra.Command{Use: "work", Short: "Log work against tasks"}
	w.AddCommand(workLogCmd())
	w.AddCommand(workListCmd())
	w.AddCommand(workDeleteCmd())
	return w
}

func workLogCmd() *cobra.Command {
	var (
		description, source string
		start, finish       string
		duration            time.Duration
		value, typeID       int64
	)
	cmd := &cobra.Command{
		Use:   "log <seq>",
		Short: "Log work on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseID(args[0], "task number")
			if err != nil {
				return err
			}
			entry := domain.WorkEntry{Description: description, Source: source, StartAt: time.Now().UTC()}
			if start != "" {
				if entry.StartAt, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
			}
			switch {
			case finish != "":
				ft, err := time.Parse(time.RFC3339, finish)
				if err != nil {
					return fmt.Errorf("--finish: %w", err)
				}
				entry.FinishAt = &ft
			case duration > 0:
				ft := entry.StartAt.Add(duration)
				entry.FinishAt = &ft
			}
			if cmd.Flags().Changed("value") {
				entry.Value = &value
			}
			if cmd.Flags().Changed("type") {
				entry.TaskTypeID = &typeID
			}
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, user domain.User) error {
				w, err := ws.Engine.LogWork(ctx, p.ID, seq, entry, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "what was done")
	cmd.Flags().StringVar(&source, "source", "", "source reference")
	cmd.Flags().StringVar(&start, "start", "", "start time (RFC3339, default now)")
	cmd.Flags().StringVar(&finish, "finish", "", "finish time (RFC3339)")
	cmd.Flags().DurationVar(&duration, "for", 0, "duration, instead of --finish")
	cmd.Flags().Int64Var(&value, "value", 0, "value")
	cmd.Flags().Int64Var(&typeID, "type", 0, "task type id")
	return cmd
}

func workListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <seq>",
		Short: "List work logged on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseID(args[0], "task number")
			if err != nil {
				return err
			}
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, _ domain.User) error {
				items, err := ws.Engine.ListWork(ctx, p.ID, seq)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "User", "Start", "Finish", "Value", "Description")
				for _, w := range items {
					finish, value := "", ""
					if w.FinishAt != nil {
						finish = w.FinishAt.Format(time.RFC3339)
					}
					if w.Value != nil {
						value = fmt.Sprint(*w.Value)
					}
					tw.AppendRow(table.Row{w.ID, w.UserID, w.StartAt.Format(time.RFC3339), finish, value, w.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func workDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your work entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "work entry id")
			if err != nil {
				return err
			}
			return withTaskContext(cmd.Context(), func(ctx context.Context, ws *app.Workspace, p domain.Project, user domain.User) error {
				return ws.Engine.DeleteWork(ctx, p.ID, id, user)
			})
		},
	}
}
