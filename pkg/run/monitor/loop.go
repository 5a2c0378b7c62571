// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollTimeout bounds each blocking wait between two polls.
const DefaultPollTimeout = 10 * time.Second

// Source is a submitted task seen through the platform API.
type Source interface {
	// FreshOutput returns stdout and stderr produced since the last call.
	FreshOutput(ctx context.Context) (stdout, stderr string, err error)
	// Snapshot refreshes and returns the task status.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Wait blocks until the task completes or timeout elapses.
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}

// TaskFailedError is returned when the remote task fails or is cancelled.
type TaskFailedError struct {
	State   string
	Message string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task ended in state %s: %s", e.State, e.Message)
}

// Loop polls a Source until the task reaches a terminal phase.
type Loop struct {
	Source      Source
	Machine     *Machine
	Printer     *Printer
	PollTimeout time.Duration
	// OnSuccess runs once after the task succeeded, e.g. to pull results.
	OnSuccess func(ctx context.Context) error
}

// Run drives the loop. It returns nil on success, *TaskFailedError on a
// remote failure, and any local or API error as is.
func (l *Loop) Run(ctx context.Context) error {
	timeout := l.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	for {
		snap, err := l.Source.Snapshot(ctx)
		if err != nil {
			return err
		}
		// Drained after the snapshot so a terminal poll prints everything.
		stdout, stderr, err := l.Source.FreshOutput(ctx)
		if err != nil {
			return err
		}
		l.Printer.Output(stdout, stderr)

		for _, ev := range l.Machine.Step(snap) {
			l.Printer.Event(ev)
		}

		switch l.Machine.Phase() {
		case PhaseFailed:
			f, _ := l.Machine.Failure()
			return &TaskFailedError{State: f.State, Message: f.Message}
		case PhaseSucceeded:
			if l.OnSuccess != nil {
				return l.OnSuccess(ctx)
			}
			return nil
		}

		if _, err := l.Source.Wait(ctx, timeout); err != nil {
			return err
		}
	}
}
