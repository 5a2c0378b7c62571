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

package qarnot

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Task states reported by the platform.
const (
	StateSubmitted           = "Submitted"
	StatePartiallyDispatched = "PartiallyDispatched"
	StateFullyDispatched     = "FullyDispatched"
	StatePartiallyExecuting  = "PartiallyExecuting"
	StateFullyExecuting      = "FullyExecuting"
	StateDownloadingResults  = "DownloadingResults"
	StateUploadingResults    = "UploadingResults"
	StateSuccess             = "Success"
	StateFailure             = "Failure"
	StateCancelled           = "Cancelled"
)

// waitStep is how often Wait refreshes the task while blocking.
var waitStep = 2 * time.Second

// IsCompleted reports whether state is terminal.
func IsCompleted(state string) bool {
	switch state {
	case StateSuccess, StateFailure, StateCancelled:
		return true
	}
	return false
}

// TaskError is one entry of a task's error list.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Debug   string `json:"debug"`
}

func (e TaskError) String() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// ActiveForward is a platform-managed TCP tunnel to an instance port.
type ActiveForward struct {
	ApplicationPort int    `json:"applicationPort"`
	ForwarderPort   int    `json:"forwarderPort"`
	ForwarderHost   string `json:"forwarderHost"`
}

// RunningInstanceInfo is the status block of one running instance.
type RunningInstanceInfo struct {
	InstanceID      int             `json:"instanceId"`
	Phase           string          `json:"phase"`
	CPUUsage        float64         `json:"cpuUsage"`
	CurrentMemoryMB float64         `json:"currentMemoryMB"`
	ActiveForward   []ActiveForward `json:"activeForward"`
}

// TaskStatus carries live instance telemetry.
type TaskStatus struct {
	RunningInstancesInfo struct {
		PerRunningInstanceInfo []RunningInstanceInfo `json:"perRunningInstanceInfo"`
	} `json:"runningInstancesInfo"`
}

// Task is a remote unit of containerized work. It is built locally with
// CreateTask and only exists remotely after Submit.
type Task struct {
	conn *Connection

	Name            string
	Profile         string
	InstanceCount   int
	Constants       map[string]string
	ResourceBuckets []string
	ResultBucket    string

	UUID   string
	State  string
	Errors []TaskError
	Status TaskStatus
}

type constant struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type taskRequest struct {
	Name            string     `json:"name"`
	Profile         string     `json:"profile"`
	InstanceCount   int        `json:"instanceCount"`
	Constants       []constant `json:"constants"`
	ResourceBuckets []string   `json:"resourceBuckets,omitempty"`
	ResultBucket    string     `json:"resultBucket,omitempty"`
}

type taskResponse struct {
	UUID   string      `json:"uuid"`
	Name   string      `json:"name"`
	State  string      `json:"state"`
	Errors []TaskError `json:"errors"`
	Status *TaskStatus `json:"status"`
}

// CreateTask prepares a task; nothing is sent until Submit.
func (c *Connection) CreateTask(name, profile string, instanceCount int) *Task {
	return &Task{
		conn:          c,
		Name:          name,
		Profile:       profile,
		InstanceCount: instanceCount,
		Constants:     map[string]string{},
	}
}

// Submit sends the task to the platform.
func (t *Task) Submit(ctx context.Context) error {
	if t.UUID != "" {
		return errors.Errorf("task %s already submitted", t.UUID)
	}
	req := taskRequest{
		Name:            t.Name,
		Profile:         t.Profile,
		InstanceCount:   t.InstanceCount,
		ResourceBuckets: t.ResourceBuckets,
		ResultBucket:    t.ResultBucket,
	}
	keys := make([]string, 0, len(t.Constants))
	for k := range t.Constants {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		req.Constants = append(req.Constants, constant{Key: k, Value: t.Constants[k]})
	}

	var resp taskResponse
	if err := t.conn.doJSON(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return errors.Wrapf(err, "failed to submit task %q", t.Name)
	}
	if resp.UUID == "" {
		return errors.Errorf("platform returned no uuid for task %q", t.Name)
	}
	t.UUID = resp.UUID
	t.State = StateSubmitted
	return nil
}

// Update refreshes state, errors and status from the platform.
func (t *Task) Update(ctx context.Context) error {
	if t.UUID == "" {
		return errors.New("task not submitted")
	}
	var resp taskResponse
	if err := t.conn.doJSON(ctx, http.MethodGet, "/tasks/"+t.UUID, nil, &resp); err != nil {
		return errors.Wrapf(err, "failed to update task %s", t.UUID)
	}
	t.State = resp.State
	t.Errors = resp.Errors
	if resp.Status != nil {
		t.Status = *resp.Status
	} else {
		t.Status = TaskStatus{}
	}
	return nil
}

// FreshStdout returns the standard output produced since the last call.
func (t *Task) FreshStdout(ctx context.Context) (string, error) {
	return t.freshOutput(ctx, "stdout")
}

// FreshStderr returns the standard error produced since the last call.
func (t *Task) FreshStderr(ctx context.Context) (string, error) {
	return t.freshOutput(ctx, "stderr")
}

func (t *Task) freshOutput(ctx context.Context, stream string) (string, error) {
	if t.UUID == "" {
		return "", errors.New("task not submitted")
	}
	body, err := t.conn.do(ctx, http.MethodPost, "/tasks/"+t.UUID+"/"+stream, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read fresh %s of task %s", stream, t.UUID)
	}
	return string(body), nil
}

// Wait blocks until the task completes or timeout elapses, refreshing the
// task along the way. It returns true when the task reached a terminal state.
func (t *Task) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := t.Update(ctx); err != nil {
			return false, err
		}
		if IsCompleted(t.State) {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		step := waitStep
		if remaining < step {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}
