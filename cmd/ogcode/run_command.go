package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ogcode-dev/ogcode/internal/compiler"
	"github.com/ogcode-dev/ogcode/internal/db"
	"github.com/ogcode-dev/ogcode/internal/emitter"
	"github.com/ogcode-dev/ogcode/internal/monitoring"
	"github.com/ogcode-dev/ogcode/internal/opal"
	"github.com/ogcode-dev/ogcode/internal/timeutil"
)

type runOptions struct {
	calibration string
	port        string
	record      bool
	dryRun      bool
	queueDepth  int
	realtime    bool
}

func newRunCommand(cctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <job.gcode>",
		Short: "Compile a G-code program and stream it to the scan head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cctx, cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.calibration, "calibration", "", "Calibration profile JSON (overrides config)")
	cmd.Flags().StringVar(&opts.port, "port", "", "Serial device for the OPAL host link (overrides config)")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Record the job and its frames to the job database")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Pace frames into a simulated sink instead of hardware")
	cmd.Flags().IntVar(&opts.queueDepth, "queue-depth", 0, "Override the frame queue depth")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "Request SCHED_FIFO for the streaming thread")

	return cmd
}

func runJob(cctx *commandContext, out io.Writer, path string, opts runOptions) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}
	if opts.queueDepth > 0 {
		cfg.Emitter.QueueDepth = opts.queueDepth
	}
	if opts.realtime {
		cfg.Emitter.Realtime = true
	}

	profile, err := cctx.loadProfile(opts.calibration)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open program: %w", err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp := compiler.New(cfg, profile, timeutil.RealClock{})
	job := comp.NewJob(filepath.Base(path))

	var sinks []emitter.Sink
	if opts.dryRun {
		monitoring.Logf("[cli] dry run, frames go to a simulated sink")
		sinks = append(sinks, opal.NewSimSink())
	} else {
		device := cfg.Serial.Device
		if opts.port != "" {
			device = opts.port
		}
		hw, err := opal.OpenSerialSink(device, cfg.Serial.PortOptions)
		if err != nil {
			return err
		}
		defer hw.Close()
		sinks = append(sinks, hw)
	}

	var store *db.DB
	if opts.record {
		store, err = cctx.openDB()
		if err != nil {
			return err
		}
		defer store.Close()
		row := &db.Job{ID: job.ID, Source: job.Source, State: job.State.String()}
		if err := store.CreateJob(context.Background(), row); err != nil {
			return err
		}
		// The recorder keeps a Background context so an aborted job still
		// lands its delivered frames in the database.
		sinks = append(sinks, opal.NewRecordSink(context.Background(), store, job.ID, opal.DefaultChunkFrames))
	}

	var sink emitter.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = opal.NewTeeSink(sinks...)
	}

	runErr := comp.Run(ctx, job, f, sink)

	if store != nil {
		msg := ""
		if job.Err != nil {
			msg = job.Err.Error()
		}
		res := db.JobResult{
			State:    job.State.String(),
			Commands: job.Commands,
			Segments: job.Segments,
			Frames:   job.Frames,
			Duration: job.StreamDuration(),
			Message:  msg,
		}
		if err := store.FinishJob(context.Background(), job.ID, res); err != nil {
			monitoring.Logf("[cli] record job result: %v", err)
		}
	}

	printJobSummary(out, job)
	return runErr
}

func printJobSummary(out io.Writer, job *compiler.Job) {
	fmt.Fprintf(out, "job %s: %s\n", job.ID, job.State)
	fmt.Fprintf(out, "  %d commands, %d segments, %d/%d frames delivered\n",
		job.Commands, job.Segments, job.Frames, job.Samples)
	if d := job.StreamDuration(); d > 0 {
		fmt.Fprintf(out, "  stream duration %s\n", d)
	}
	if len(job.Warnings) > 0 {
		fmt.Fprintf(out, "  %d warning(s), see log\n", len(job.Warnings))
	}
}
