package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/home-monitor/video-svr/internal/sink/arrow"
)

// runWith builds the application for one-shot commands.
func runWith(fn func(cmd *cobra.Command, args []string, app *Application) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := NewApplication()
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd, args, app)
	}
}

func previewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Show how each complete segment would be handled, without changing anything",
		Args:  cobra.NoArgs,
		RunE: runWith(func(cmd *cobra.Command, _ []string, app *Application) error {
			res, err := app.processor.Preview(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func commitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit",
		Short: "Move segments with motion, delete the rest and report processed events",
		Args:  cobra.NoArgs,
		RunE: runWith(func(cmd *cobra.Command, _ []string, app *Application) error {
			res, err := app.processor.Commit(cmd.Context())
			if res != nil {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			}
			return err
		}),
	}
}

func filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List video files in storage",
		Args:  cobra.NoArgs,
		RunE: runWith(func(cmd *cobra.Command, _ []string, app *Application) error {
			files, err := app.processor.ListVideoFiles(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(files)
		}),
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [paths...]",
		Short: "Delete video files by absolute path",
		Args:  cobra.MinimumNArgs(1),
		RunE: runWith(func(cmd *cobra.Command, args []string, app *Application) error {
			res := app.processor.DeleteFiles(cmd.Context(), args)
			if err := printJSON(map[string]interface{}{
				"deleted": res.Succeeded,
				"failed":  res.FailedPaths(),
			}); err != nil {
				return err
			}
			return res.Err()
		}),
	}
}

func retryReportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-reports",
		Short: "Send reports that failed in earlier passes",
		Args:  cobra.NoArgs,
		RunE: runWith(func(cmd *cobra.Command, _ []string, app *Application) error {
			res, err := app.processor.ReplayPending(cmd.Context())
			if res != nil {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			}
			return err
		}),
	}
}

func passesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "passes",
		Short: "Show recent pass history",
		Args:  cobra.NoArgs,
		RunE: runWith(func(cmd *cobra.Command, _ []string, app *Application) error {
			passes, err := app.processor.ListPasses(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODE\tSTARTED\tINTERVALS\tMOVED\tDELETED\tFAILED\tREPORTED\tERROR")
			for _, p := range passes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
					p.ID, p.Mode, p.StartedAt.Local().Format(time.DateTime),
					p.Intervals, p.Moved, p.Deleted, p.MoveFailed+p.DeleteFailed, p.Reported, p.Error)
			}
			return w.Flush()
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of passes to show")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the per-pass disposition archive",
	}
	cmd.AddCommand(auditListCmd())
	cmd.AddCommand(auditShowCmd())
	return cmd
}

var errAuditDisabled = errors.New("audit archive is disabled (audit.enabled=false)")

func auditListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived passes from the manifest",
		Args:  cobra.NoArgs,
		RunE: runWith(func(_ *cobra.Command, _ []string, app *Application) error {
			if app.archive == nil {
				return errAuditDisabled
			}
			entries, err := app.archive.Manifest()
			if err != nil {
				return err
			}
			return printJSON(entries)
		}),
	}
}

func auditShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [pass-id]",
		Short: "Print the disposition rows of one archived pass",
		Args:  cobra.ExactArgs(1),
		RunE: runWith(func(_ *cobra.Command, args []string, app *Application) error {
			if app.archive == nil {
				return errAuditDisabled
			}
			path, err := app.archive.FindPass(args[0])
			if err != nil {
				return fmt.Errorf("pass %s: %w", args[0], err)
			}
			rows, err := arrow.ReadPass(path)
			if err != nil {
				return err
			}
			return printJSON(struct {
				File string                 `json:"file"`
				Rows []arrow.DispositionRow `json:"rows"`
			}{path, rows})
		}),
	}
}
