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

// Package monitor follows a submitted task until it ends: it turns status
// snapshots into events with a small state machine and prints them.
package monitor

import (
	"meshroom-toolkit/pkg/qarnot"
)

// Phase is the coarse lifecycle of a task as seen by the poll loop.
type Phase int

const (
	PhaseSubmitted Phase = iota
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmitted:
		return "submitted"
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Classify maps a platform state to a phase. Only FullyExecuting counts as
// running; every non-terminal state before or after it is "submitted".
func Classify(state string) Phase {
	switch state {
	case qarnot.StateFullyExecuting:
		return PhaseRunning
	case qarnot.StateSuccess:
		return PhaseSucceeded
	case qarnot.StateFailure, qarnot.StateCancelled:
		return PhaseFailed
	}
	return PhaseSubmitted
}

// Forward is an externally reachable tunnel to an instance port.
type Forward struct {
	Host string
	Port int
}

// Instance is the telemetry of one running instance.
type Instance struct {
	CPU      float64
	MemoryMB float64
	Forwards []Forward
}

// Snapshot is what one poll learned about the remote task.
type Snapshot struct {
	State     string
	Errors    []string
	Instances []Instance
}

// Event is something the poll loop reports.
type Event interface {
	isEvent()
}

// Transition is emitted whenever the platform state changes.
type Transition struct {
	From, To string
	Phase    Phase
}

// Telemetry is emitted for each instance while running.
type Telemetry struct {
	Index    int
	Instance Instance
}

// SSHReady is emitted once, the first time a forward shows up.
type SSHReady struct {
	Forward Forward
}

// Failed carries the first reported error.
type Failed struct {
	State   string
	Message string
}

// Succeeded is emitted when the task completed successfully.
type Succeeded struct{}

func (Transition) isEvent() {}
func (Telemetry) isEvent()  {}
func (SSHReady) isEvent()   {}
func (Failed) isEvent()     {}
func (Succeeded) isEvent()  {}

// Machine folds snapshots into events. It is not safe for concurrent use.
type Machine struct {
	watchForwards bool
	last          string
	phase         Phase
	sshReported   bool
	failure       *Failed
}

// NewMachine returns a machine in the submitted phase. With watchForwards
// set, the first port-forward seen while running yields an SSHReady event.
func NewMachine(watchForwards bool) *Machine {
	return &Machine{watchForwards: watchForwards}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Failure returns the failure event once the machine has failed.
func (m *Machine) Failure() (Failed, bool) {
	if m.failure == nil {
		return Failed{}, false
	}
	return *m.failure, true
}

// Step consumes one snapshot. Once terminal, the machine ignores input.
func (m *Machine) Step(s Snapshot) []Event {
	if m.phase.Terminal() {
		return nil
	}

	var events []Event
	phase := Classify(s.State)
	if s.State != m.last {
		events = append(events, Transition{From: m.last, To: s.State, Phase: phase})
		m.last = s.State
	}
	m.phase = phase

	switch phase {
	case PhaseRunning:
		for i, inst := range s.Instances {
			events = append(events, Telemetry{Index: i, Instance: inst})
		}
		if m.watchForwards && !m.sshReported {
			if fwd, ok := firstForward(s.Instances); ok {
				m.sshReported = true
				events = append(events, SSHReady{Forward: fwd})
			}
		}
	case PhaseFailed:
		f := Failed{State: s.State, Message: "no error reported"}
		if len(s.Errors) > 0 {
			f.Message = s.Errors[0]
		}
		m.failure = &f
		events = append(events, f)
	case PhaseSucceeded:
		events = append(events, Succeeded{})
	}
	return events
}

func firstForward(instances []Instance) (Forward, bool) {
	for _, inst := range instances {
		if len(inst.Forwards) > 0 {
			return inst.Forwards[0], true
		}
	}
	return Forward{}, false
}
