package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ogcode-dev/ogcode/internal/db"
)

func newDBCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and maintain the job database",
	}
	cmd.AddCommand(newDBStatusCommand(cctx))
	cmd.AddCommand(newDBJobsCommand(cctx))
	cmd.AddCommand(newDBJobCommand(cctx))
	cmd.AddCommand(newDBMigrateCommand(cctx))
	return cmd
}

func newDBStatusCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and whether migrations are pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cctx.openDBNoMigrate()
			if err != nil {
				return err
			}
			defer d.Close()

			version, dirty, err := d.MigrateVersion()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema version %d, dirty %v\n", version, dirty)
			if dirty {
				fmt.Fprintln(out, "a migration failed mid-run; inspect the database, then `ogcode db migrate force <version>`")
			}
			return nil
		},
	}
}

func newDBJobsCommand(cctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cctx.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			jobs, err := d.RecentJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(jobs))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list")
	return cmd
}

func renderJobsTable(jobs []db.Job) string {
	headers := []string{"ID", "Created", "Source", "State", "Cmds", "Segs", "Frames", "Duration"}
	aligns := []columnAlignment{
		alignLeft, alignLeft, alignLeft, alignLeft,
		alignRight, alignRight, alignRight, alignRight,
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			shortID(j.ID),
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			j.Source,
			j.State,
			strconv.Itoa(j.Commands),
			strconv.Itoa(j.Segments),
			strconv.Itoa(j.Frames),
			j.Duration.Truncate(time.Millisecond).String(),
		})
	}
	return renderTable(headers, rows, aligns)
}

// shortID abbreviates a job id for table display; `db job` accepts the prefix.
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func newDBJobCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show one job in full, including its recorded frame count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cctx.openDB()
			if err != nil {
				return err
			}
			defer d.Close()
			return showJob(cmd.Context(), cmd.OutOrStdout(), d, args[0])
		},
	}
}

func showJob(ctx context.Context, out io.Writer, d *db.DB, idArg string) error {
	id, err := resolveJobID(ctx, d, idArg)
	if err != nil {
		return err
	}
	job, err := d.Job(ctx, id)
	if err != nil {
		return err
	}
	stored, err := d.JobFrameCount(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "job %s\n", job.ID)
	fmt.Fprintf(out, "  source   %s\n", job.Source)
	fmt.Fprintf(out, "  state    %s\n", job.State)
	fmt.Fprintf(out, "  created  %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	if job.FinishedAt != nil {
		fmt.Fprintf(out, "  finished %s\n", job.FinishedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "  %d commands, %d segments, %d frames delivered\n",
		job.Commands, job.Segments, job.Frames)
	fmt.Fprintf(out, "  stream duration %s\n", job.Duration)
	fmt.Fprintf(out, "  recorded frames %d\n", stored)
	if job.Error != nil {
		fmt.Fprintf(out, "  error: %s\n", *job.Error)
	}
	return nil
}

// resolveJobID accepts a full UUID or a unique prefix of one, matching the
// abbreviated ids the jobs table prints.
func resolveJobID(ctx context.Context, d *db.DB, arg string) (uuid.UUID, error) {
	arg = strings.TrimSpace(strings.ToLower(arg))
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}
	if len(arg) < 4 {
		return uuid.Nil, fmt.Errorf("job id prefix %q too short, need at least 4 characters", arg)
	}

	jobs, err := d.RecentJobs(ctx, 0)
	if err != nil {
		return uuid.Nil, err
	}
	var match uuid.UUID
	found := 0
	for _, j := range jobs {
		if strings.HasPrefix(j.ID.String(), arg) {
			match = j.ID
			found++
		}
	}
	switch found {
	case 0:
		return uuid.Nil, fmt.Errorf("no job matches id prefix %q", arg)
	case 1:
		return match, nil
	default:
		return uuid.Nil, fmt.Errorf("job id prefix %q is ambiguous (%d matches)", arg, found)
	}
}

func newDBMigrateCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRawDB(cctx, func(d *db.DB) error {
				if err := d.MigrateUp(); err != nil {
					return err
				}
				return printMigrateVersion(cmd.OutOrStdout(), d)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back one migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRawDB(cctx, func(d *db.DB) error {
				if err := d.MigrateDown(); err != nil {
					return err
				}
				return printMigrateVersion(cmd.OutOrStdout(), d)
			})
		},
	})

	var yes bool
	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Force the recorded schema version (recovery after a dirty migration)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
				fmt.Sprintf("force schema version to %d without running migrations?", version)) {
				return fmt.Errorf("aborted")
			}
			return withRawDB(cctx, func(d *db.DB) error {
				if err := d.MigrateForce(version); err != nil {
					return err
				}
				return printMigrateVersion(cmd.OutOrStdout(), d)
			})
		},
	}
	force.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	cmd.AddCommand(force)

	return cmd
}

func withRawDB(cctx *commandContext, fn func(*db.DB) error) error {
	d, err := cctx.openDBNoMigrate()
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

func printMigrateVersion(out io.Writer, d *db.DB) error {
	version, dirty, err := d.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d, dirty %v\n", version, dirty)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
