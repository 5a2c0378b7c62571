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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"meshroom-toolkit/pkg/config"

	"github.com/google/go-cmp/cmp"
)

func newTestConnection(t *testing.T, handler http.Handler) *Connection {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	conn, err := NewConnection(config.Config{Token: "secret", APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	return conn
}

func TestNewConnectionRequiresToken(t *testing.T) {
	_, err := NewConnection(config.Config{})
	var missing *config.MissingTokenError
	if !errors.As(err, &missing) {
		t.Fatalf("NewConnection without token: got %v, want MissingTokenError", err)
	}
}

func TestAuthorizationAndAPIError(t *testing.T) {
	conn := newTestConnection(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "secret" {
			t.Errorf("Authorization header = %q, want %q", got, "secret")
		}
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"invalid token"}`)
	}))

	_, err := conn.UserInfo(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("UserInfo error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "invalid token" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestUserInfoAndSettings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"email":"me@example.com","maxInstances":64}`)
	})
	mux.HandleFunc("/settings", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"storage":"https://storage.example.com"}`)
	})
	conn := newTestConnection(t, mux)

	info, err := conn.UserInfo(context.Background())
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if info.Email != "me@example.com" {
		t.Errorf("Email = %q", info.Email)
	}
	settings, err := conn.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if settings.Storage != "https://storage.example.com" {
		t.Errorf("Storage = %q", settings.Storage)
	}
}

func TestHardwareConstraintsPaginates(t *testing.T) {
	const total = 60
	conn := newTestConnection(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		page := constraintsPage{Offset: offset, Limit: limit, Total: total}
		for i := offset; i < total && i < offset+limit; i++ {
			page.Data = append(page.Data, HardwareConstraint{
				"discriminator": "MinimumCoreHardwareConstraint",
				"coreCount":     float64(i),
			})
		}
		json.NewEncoder(w).Encode(page)
	}))

	got, err := conn.HardwareConstraints(context.Background())
	if err != nil {
		t.Fatalf("HardwareConstraints: %v", err)
	}
	if len(got) != total {
		t.Fatalf("got %d constraints, want %d", len(got), total)
	}
	if got[59]["coreCount"] != float64(59) {
		t.Errorf("last constraint = %v", got[59])
	}
	if d := got[0].Discriminator(); d != "MinimumCoreHardwareConstraint" {
		t.Errorf("Discriminator = %q", d)
	}
	line, err := got[1].JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if want := `{"coreCount":1,"discriminator":"MinimumCoreHardwareConstraint"}`; line != want {
		t.Errorf("JSON = %s, want %s", line, want)
	}
}

func TestHardwareConstraintsBareArray(t *testing.T) {
	conn := newTestConnection(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"discriminator":"GpuHardwareConstraint"}]`)
	}))
	got, err := conn.HardwareConstraints(context.Background())
	if err != nil {
		t.Fatalf("HardwareConstraints: %v", err)
	}
	if len(got) != 1 || got[0].Discriminator() != "GpuHardwareConstraint" {
		t.Errorf("got %v", got)
	}
}

// fakePlatform serves just enough of the task API for a submit/poll cycle.
type fakePlatform struct {
	mu        sync.Mutex
	submitted taskRequest
	states    []string
	stdout    []string
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/tasks":
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &f.submitted)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"uuid":"1234"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/tasks/1234":
		state := f.states[0]
		if len(f.states) > 1 {
			f.states = f.states[1:]
		}
		resp := map[string]interface{}{"uuid": "1234", "state": state}
		if state == StateFullyExecuting {
			resp["status"] = map[string]interface{}{
				"runningInstancesInfo": map[string]interface{}{
					"perRunningInstanceInfo": []interface{}{
						map[string]interface{}{
							"cpuUsage":        42.5,
							"currentMemoryMB": 2048,
							"activeForward": []interface{}{
								map[string]interface{}{"applicationPort": 22, "forwarderPort": 50022, "forwarderHost": "forward.example.com"},
							},
						},
					},
				},
			}
		}
		if state == StateFailure {
			resp["errors"] = []interface{}{
				map[string]interface{}{"code": "E1", "message": "first"},
				map[string]interface{}{"code": "E2", "message": "second"},
			}
		}
		json.NewEncoder(w).Encode(resp)
	case r.Method == http.MethodPost && r.URL.Path == "/tasks/1234/stdout":
		if len(f.stdout) > 0 {
			fmt.Fprint(w, f.stdout[0])
			f.stdout = f.stdout[1:]
		}
	case r.Method == http.MethodPost && r.URL.Path == "/tasks/1234/stderr":
	default:
		http.NotFound(w, r)
	}
}

func TestTaskLifecycle(t *testing.T) {
	platform := &fakePlatform{
		states: []string{StateSubmitted, StateFullyExecuting, StateFailure},
		stdout: []string{"hello\n"},
	}
	conn := newTestConnection(t, platform)
	ctx := context.Background()

	task := conn.CreateTask("meshroom-test", "docker-nvidia-batch", 1)
	task.Constants["DOCKER_TAG"] = "dev"
	task.Constants["DOCKER_REPO"] = "alicevision/meshroom"
	task.ResourceBuckets = append(task.ResourceBuckets, "meshroom-in")
	task.ResultBucket = "meshroom-out"

	if err := task.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if task.UUID != "1234" {
		t.Errorf("UUID = %q", task.UUID)
	}
	if err := task.Submit(ctx); err == nil {
		t.Errorf("second Submit succeeded, want error")
	}

	want := taskRequest{
		Name:          "meshroom-test",
		Profile:       "docker-nvidia-batch",
		InstanceCount: 1,
		Constants: []constant{
			{Key: "DOCKER_REPO", Value: "alicevision/meshroom"},
			{Key: "DOCKER_TAG", Value: "dev"},
		},
		ResourceBuckets: []string{"meshroom-in"},
		ResultBucket:    "meshroom-out",
	}
	if diff := cmp.Diff(want, platform.submitted); diff != "" {
		t.Errorf("submitted task mismatch (-want +got):\n%s", diff)
	}

	out, err := task.FreshStdout(ctx)
	if err != nil || out != "hello\n" {
		t.Errorf("FreshStdout = %q, %v", out, err)
	}
	out, err = task.FreshStdout(ctx)
	if err != nil || out != "" {
		t.Errorf("second FreshStdout = %q, %v", out, err)
	}

	if err := task.Update(ctx); err != nil || task.State != StateSubmitted {
		t.Fatalf("Update: state %q, err %v", task.State, err)
	}
	if err := task.Update(ctx); err != nil || task.State != StateFullyExecuting {
		t.Fatalf("Update: state %q, err %v", task.State, err)
	}
	infos := task.Status.RunningInstancesInfo.PerRunningInstanceInfo
	if len(infos) != 1 {
		t.Fatalf("got %d instance infos", len(infos))
	}
	wantInfo := RunningInstanceInfo{
		CPUUsage:        42.5,
		CurrentMemoryMB: 2048,
		ActiveForward:   []ActiveForward{{ApplicationPort: 22, ForwarderPort: 50022, ForwarderHost: "forward.example.com"}},
	}
	if diff := cmp.Diff(wantInfo, infos[0]); diff != "" {
		t.Errorf("instance info mismatch (-want +got):\n%s", diff)
	}

	waitStep = 10 * time.Millisecond
	defer func() { waitStep = 2 * time.Second }()
	done, err := task.Wait(ctx, time.Second)
	if err != nil || !done {
		t.Fatalf("Wait = %v, %v; want true, nil", done, err)
	}
	if task.State != StateFailure || len(task.Errors) != 2 || task.Errors[0].String() != "E1: first" {
		t.Errorf("after Wait: state %q errors %v", task.State, task.Errors)
	}
}

func TestWaitTimesOut(t *testing.T) {
	platform := &fakePlatform{states: []string{StateFullyDispatched}}
	conn := newTestConnection(t, platform)
	task := conn.CreateTask("t", "p", 1)
	task.UUID = "1234"

	waitStep = 5 * time.Millisecond
	defer func() { waitStep = 2 * time.Second }()
	done, err := task.Wait(context.Background(), 20*time.Millisecond)
	if err != nil || done {
		t.Errorf("Wait = %v, %v; want false, nil", done, err)
	}
}

func TestIsCompleted(t *testing.T) {
	for state, want := range map[string]bool{
		StateSubmitted:      false,
		StateFullyExecuting: false,
		StateSuccess:        true,
		StateFailure:        true,
		StateCancelled:      true,
	} {
		if got := IsCompleted(state); got != want {
			t.Errorf("IsCompleted(%q) = %v, want %v", state, got, want)
		}
	}
}
