package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/taskmill/taskmill/internal/cancel"
	"github.com/taskmill/taskmill/internal/executor"
	"github.com/taskmill/taskmill/internal/tui"
	"github.com/taskmill/taskmill/pkg/models"
)

// runOutcome carries the executor's result across goroutines.
type runOutcome struct {
	result *models.RunResult
	err    error
}

// runWithTUI executes the run behind a live monitor.
func runWithTUI(exec *executor.Executor, run *cancel.Run, total int, events chan models.Event) (_ *models.RunResult, retErr error) {
	// Suppress log output while the monitor is active (it corrupts the
	// display).
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in monitor: %v", r)
		}
	}()

	program, _ := tui.NewProgram(run.ID(), total, run)

	// Forward executor events to the monitor. Send is a no-op once the
	// program has exited, so the forwarder drains harmlessly if the user
	// quits early.
	go func() {
		for ev := range events {
			program.Send(tui.EventMsg{Event: ev})
		}
	}()

	execDone := make(chan runOutcome, 1)
	go func() {
		result, err := exec.Run(context.Background(), run)
		close(events)
		execDone <- runOutcome{result: result, err: err}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		_, err := program.Run()
		tuiDone <- err
	}()

	select {
	case out := <-execDone:
		program.Send(tui.DoneMsg{
			Success: out.err == nil && out.result != nil && out.result.Success(),
			Message: doneMessage(out),
		})
		// Leave the final view up until the user quits.
		<-tuiDone
		return out.result, out.err

	case err := <-tuiDone:
		// Monitor closed mid-run. Ctrl+C already cancelled the run via
		// the handle; a plain quit leaves it running, so wait either way.
		log.SetOutput(originalOutput)
		fmt.Println("monitor closed, waiting for the run to finish...")
		out := <-execDone
		if err != nil {
			return out.result, err
		}
		return out.result, out.err
	}
}

func doneMessage(out runOutcome) string {
	if out.err != nil {
		return out.err.Error()
	}
	if out.result == nil {
		return "run finished"
	}
	r := out.result
	if r.Success() {
		return fmt.Sprintf("%d/%d tasks completed", len(r.Completed), len(r.Completed))
	}
	total := len(r.Completed) + len(r.Failed) + len(r.Skipped) + len(r.Cancelled)
	return fmt.Sprintf("%d/%d tasks completed, %d failed, %d skipped, %d cancelled",
		len(r.Completed), total, len(r.Failed), len(r.Skipped), len(r.Cancelled))
}
