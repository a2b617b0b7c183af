package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ogcode-dev/ogcode/internal/calib"
	"github.com/ogcode-dev/ogcode/internal/emitter"
	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/laser"
	"github.com/ogcode-dev/ogcode/internal/planner"
)

// Exit codes identify the failing pipeline stage so wrapping scripts can
// tell a bad program from a bad machine.
const (
	exitOK          = 0
	exitOther       = 1
	exitParse       = 2
	exitPlanning    = 3
	exitCalibration = 4
	exitTiming      = 5
	exitEncoding    = 6
	exitStreaming   = 7
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "ogcode: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var (
		parseErr  *gcode.ParseError
		planErr   *planner.PlanningError
		calibErr  *calib.CalibrationError
		timingErr *laser.TimingError
		encErr    *emitter.EncodingError
		sinkErr   *emitter.SinkError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &parseErr):
		return exitParse
	case errors.As(err, &planErr):
		return exitPlanning
	case errors.As(err, &calibErr):
		return exitCalibration
	case errors.As(err, &timingErr):
		return exitTiming
	case errors.As(err, &encErr):
		return exitEncoding
	case errors.As(err, &sinkErr):
		return exitStreaming
	default:
		return exitOther
	}
}
