package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/board"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

var statusHelp = strings.Join(domain.StatusNames(), "|")

func taskCmd() *cobra.Command {
	tc := &cobra.Command{Use: "task", Short: "Manage tasks"}

	var name, description, assignee, due, status string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a task at the end of its column",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := domain.ParseStatus(status)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					ProjectID:   projectID,
					Name:        name,
					Description: description,
					AssigneeID:  assignee,
					DueDate:     due,
					Status:      st,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "task name")
	create.Flags().StringVar(&description, "description", "", "task description")
	create.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	create.Flags().StringVar(&due, "due", "", "due date (RFC3339 or YYYY-MM-DD)")
	create.Flags().StringVar(&status, "status", domain.Todo.String(), statusHelp)
	_ = create.MarkFlagRequired("name")

	var listStatus, listAssignee, search string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks in board order",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := engine.TaskFilters{AssigneeID: listAssignee, Search: search, Limit: limit}
			if listStatus != "" {
				st, err := domain.ParseStatus(listStatus)
				if err != nil {
					return err
				}
				f.Status = &st
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				f.ProjectID = projectID
				items, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Position", "Assignee", "Due"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Status, t.Position, deref(t.AssigneeID), deref(t.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listStatus, "status", "", "filter by status ("+statusHelp+")")
	list.Flags().StringVar(&listAssignee, "assignee", "", "filter by assignee")
	list.Flags().StringVar(&search, "search", "", "match name or description")
	list.Flags().IntVar(&limit, "limit", 0, "maximum tasks to return")

	var upName, upDescription, upAssignee, upDue, upStatus string
	update := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields; a new status moves it to the end of that column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
			flags := cmd.Flags()
			if flags.Changed("name") {
				opts.Name = &upName
			}
			if flags.Changed("description") {
				opts.Description = &upDescription
			}
			if flags.Changed("assignee") {
				opts.AssigneeID = &upAssignee
			}
			if flags.Changed("due") {
				opts.DueDate = &upDue
			}
			if flags.Changed("status") {
				st, err := domain.ParseStatus(upStatus)
				if err != nil {
					return err
				}
				opts.Status = &st
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	update.Flags().StringVar(&upName, "name", "", "task name")
	update.Flags().StringVar(&upDescription, "description", "", "task description")
	update.Flags().StringVar(&upAssignee, "assignee", "", "assignee user id (empty clears)")
	update.Flags().StringVar(&upDue, "due", "", "due date (empty clears)")
	update.Flags().StringVar(&upStatus, "status", "", statusHelp)

	del := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted task %s\n", args[0])
				return nil
			})
		},
	}

	tc.AddCommand(create, list, update, del)
	return tc
}

func boardCmd() *cobra.Command {
	bc := &cobra.Command{Use: "board", Short: "Show and reorder the project board"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the board, one column per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				b, err := e.Board(ctx, projectID)
				if err != nil {
					return err
				}
				return printBoard(projectID, b)
			})
		},
	}

	counts := &cobra.Command{
		Use:   "counts",
		Short: "Print the number of tasks in each column",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				n, err := e.TaskCounts(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := make(map[string]int, len(n))
					for st, c := range n {
						out[st.String()] = c
					}
					return printJSON(out)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Status", "Tasks"})
				total := 0
				for _, st := range domain.Statuses() {
					tw.AppendRow(table.Row{st, n[st]})
					total += n[st]
				}
				tw.AppendFooter(table.Row{"Total", total})
				tw.Render()
				return nil
			})
		},
	}

	var taskID, from, to string
	var fromIndex, toIndex int
	move := &cobra.Command{
		Use:   "move",
		Short: "Drag a task to a column and index",
		Long: `Move a task to another column or index and renumber the touched columns.
Select the task with --task, or with --from and --from-index.
Omit --to to cancel the drag (nothing is written).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var dst *board.Location
			if cmd.Flags().Changed("to") {
				st, err := domain.ParseStatus(to)
				if err != nil {
					return err
				}
				dst = &board.Location{Status: st, Index: toIndex}
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				src, err := sourceLocation(ctx, e, projectID, taskID, from, fromIndex)
				if err != nil {
					return err
				}
				b, cs, err := e.MoveTask(ctx, projectID, src, dst, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(struct {
						Changes board.ChangeSet `json:"changes"`
					}{cs})
				}
				if len(cs) == 0 {
					fmt.Println("No changes")
					return nil
				}
				fmt.Printf("Moved %s, %d task(s) renumbered\n", cs[0].ID, len(cs))
				return printBoard(projectID, b)
			})
		},
	}
	move.Flags().StringVar(&taskID, "task", "", "task id to move")
	move.Flags().StringVar(&from, "from", "", "source column ("+statusHelp+")")
	move.Flags().IntVar(&fromIndex, "from-index", 0, "index in the source column")
	move.Flags().StringVar(&to, "to", "", "destination column ("+statusHelp+")")
	move.Flags().IntVar(&toIndex, "to-index", 0, "index in the destination column (clamped)")

	bc.AddCommand(show, counts, move)
	return bc
}

// sourceLocation finds the drag source either by task id or by column and index.
func sourceLocation(ctx context.Context, e engine.Engine, projectID, taskID, from string, fromIndex int) (board.Location, error) {
	if taskID == "" {
		if from == "" {
			return board.Location{}, fmt.Errorf("--task or --from is required")
		}
		st, err := domain.ParseStatus(from)
		if err != nil {
			return board.Location{}, err
		}
		return board.Location{Status: st, Index: fromIndex}, nil
	}
	b, err := e.Board(ctx, projectID)
	if err != nil {
		return board.Location{}, err
	}
	for _, st := range domain.Statuses() {
		for i, t := range b.Column(st) {
			if t.ID == taskID {
				return board.Location{Status: st, Index: i}, nil
			}
		}
	}
	return board.Location{}, fmt.Errorf("task %s is not on project %s", taskID, projectID)
}

func printBoard(projectID string, b board.Board) error {
	if viper.GetBool("json") {
		cols := make(map[string]board.Column, domain.StatusCount)
		for _, st := range domain.Statuses() {
			cols[st.String()] = b.Column(st)
		}
		return printJSON(struct {
			ProjectID string                  `json:"project_id"`
			Columns   map[string]board.Column `json:"columns"`
		}{projectID, cols})
	}
	tw := newTable()
	header := table.Row{}
	rows := 0
	counts := b.Counts()
	for _, st := range domain.Statuses() {
		header = append(header, fmt.Sprintf("%s (%d)", st, counts[st]))
		rows = max(rows, counts[st])
	}
	tw.AppendHeader(header)
	for i := 0; i < rows; i++ {
		row := table.Row{}
		for _, st := range domain.Statuses() {
			col := b.Column(st)
			if i < len(col) {
				row = append(row, fmt.Sprintf("%s\n%s @%d", col[i].Name, col[i].ID, col[i].Position))
			} else {
				row = append(row, "")
			}
		}
		tw.AppendRow(row)
	}
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
