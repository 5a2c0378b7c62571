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

package meshroom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"meshroom-toolkit/pkg/config"
	"meshroom-toolkit/pkg/logging"
	"meshroom-toolkit/pkg/orchestrator"
	"meshroom-toolkit/pkg/qarnot"
	"meshroom-toolkit/pkg/run/monitor"
	"meshroom-toolkit/pkg/run/taskspec"
	"meshroom-toolkit/pkg/storage"

	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// Constraint output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	formats    = []string{FormatJSON, FormatYAML}
	directions = []string{orchestrator.SyncIn, orchestrator.SyncOut}
)

// Orchestrator runs meshroom tasks on Qarnot.
type Orchestrator struct {
	cfg    config.Config
	conn   *qarnot.Connection
	fs     afero.Fs
	out    io.Writer
	errOut io.Writer
	store  storage.Provisioner
}

var _ orchestrator.Orchestrator = (*Orchestrator)(nil)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithFs sets the local filesystem used by folder sync.
func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) { o.fs = fs }
}

// WithOutput sets where task output goes.
func WithOutput(out, errOut io.Writer) Option {
	return func(o *Orchestrator) {
		o.out = out
		o.errOut = errOut
	}
}

// WithProvisioner replaces the bucket storage, which is otherwise resolved
// from the platform settings on first use.
func WithProvisioner(p storage.Provisioner) Option {
	return func(o *Orchestrator) { o.store = p }
}

// NewOrchestrator opens the platform connection shared by all operations.
func NewOrchestrator(cfg config.Config, opts ...Option) (*Orchestrator, error) {
	conn, err := qarnot.NewConnection(cfg)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:    cfg,
		conn:   conn,
		fs:     afero.NewOsFs(),
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ListConstraints prints every hardware constraint, one JSON object per
// line or one YAML document each.
func (o *Orchestrator) ListConstraints(ctx context.Context, w io.Writer, format string) error {
	if !slices.Contains(formats, format) {
		return fmt.Errorf("unknown output format '%s', expected '%s' or '%s'.%s",
			format, FormatJSON, FormatYAML, orchestrator.DidYouMean(format, formats...))
	}
	constraints, err := o.conn.HardwareConstraints(ctx)
	if err != nil {
		return err
	}
	logging.Debug("Found %d hardware constraints", len(constraints))

	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		for _, hwc := range constraints {
			if err := enc.Encode(map[string]interface{}(hwc)); err != nil {
				return fmt.Errorf("failed to encode constraint: %w", err)
			}
		}
		return nil
	}
	for _, hwc := range constraints {
		line, err := hwc.JSON()
		if err != nil {
			return fmt.Errorf("failed to encode constraint: %w", err)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// SetupBuckets retrieves or creates the input and output buckets.
func (o *Orchestrator) SetupBuckets(ctx context.Context) (in, out *storage.Bucket, err error) {
	p, err := o.provisioner(ctx)
	if err != nil {
		return nil, nil, err
	}
	in, err = o.setupBucket(ctx, p, o.cfg.InputBucket, "input")
	if err != nil {
		return nil, nil, err
	}
	out, err = o.setupBucket(ctx, p, o.cfg.OutputBucket, "output")
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

func (o *Orchestrator) setupBucket(ctx context.Context, p storage.Provisioner, name, role string) (*storage.Bucket, error) {
	b, created, err := storage.GetOrCreate(ctx, p, name)
	if err != nil {
		return nil, fmt.Errorf("failed to set up %s bucket: %w", role, err)
	}
	if created {
		fmt.Fprintf(o.out, "Created %s bucket.\n", role)
	} else {
		fmt.Fprintf(o.out, "Found %s bucket.\n", role)
	}
	return b, nil
}

// folderSyncer is the part of a bucket used by SyncFolder.
type folderSyncer interface {
	SyncDirectory(ctx context.Context, fs afero.Fs, dir string) (storage.SyncStats, error)
	SyncRemoteToLocal(ctx context.Context, fs afero.Fs, dir string) (storage.SyncStats, error)
}

// SyncFolder pushes the local input folder ("in") or pulls the output bucket
// ("out"). Other directions are ignored.
func (o *Orchestrator) SyncFolder(ctx context.Context, direction string) error {
	if !slices.Contains(directions, direction) {
		logging.Warn("Unknown sync direction '%s', expected '%s' or '%s'. Nothing to do.%s",
			direction, orchestrator.SyncIn, orchestrator.SyncOut, orchestrator.DidYouMean(direction, directions...))
		return nil
	}
	in, out, err := o.SetupBuckets(ctx)
	if err != nil {
		return err
	}
	return o.syncWith(ctx, direction, in, out)
}

func (o *Orchestrator) syncWith(ctx context.Context, direction string, in, out folderSyncer) error {
	switch direction {
	case orchestrator.SyncIn:
		fmt.Fprintf(o.out, "Syncing local '%s' folder to input bucket '%s'...\n", o.cfg.InputDir, o.cfg.InputBucket)
		stats, err := in.SyncDirectory(ctx, o.fs, o.cfg.InputDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(o.out, "Sync complete: %d uploaded, %d unchanged.\n", stats.Transferred, stats.Skipped)
	case orchestrator.SyncOut:
		fmt.Fprintf(o.out, "Syncing output bucket '%s' to local '%s' folder...\n", o.cfg.OutputBucket, o.cfg.OutputDir)
		stats, err := out.SyncRemoteToLocal(ctx, o.fs, o.cfg.OutputDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(o.out, "Sync complete: %d downloaded, %d unchanged.\n", stats.Transferred, stats.Skipped)
	}
	return nil
}

// SubmitJob builds, submits and follows a task until it ends. A successful
// task has its output bucket pulled to the local output folder.
func (o *Orchestrator) SubmitJob(ctx context.Context, job orchestrator.JobDefinition) error {
	spec, err := taskspec.Build(taskspec.Options{
		TaskName:      o.cfg.TaskName,
		InstanceCount: o.cfg.InstanceCount,
		DockerRepo:    o.cfg.DockerRepo,
		DockerTag:     o.cfg.DockerTag,
		InputBucket:   o.cfg.InputBucket,
		OutputBucket:  o.cfg.OutputBucket,
	}, job.Profile)
	if err != nil {
		return err
	}

	in, out, err := o.SetupBuckets(ctx)
	if err != nil {
		return err
	}
	if job.SyncInput {
		if err := o.syncWith(ctx, orchestrator.SyncIn, in, out); err != nil {
			return err
		}
	}

	task := o.conn.CreateTask(spec.Name, spec.Profile, spec.InstanceCount)
	for k, v := range spec.Constants {
		task.Constants[k] = v
	}
	task.ResourceBuckets = append(task.ResourceBuckets, in.Name)
	task.ResultBucket = out.Name

	if err := task.Submit(ctx); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "Submitted task '%s' (%s) with profile %s.\n", task.Name, task.UUID, task.Profile)

	_, interactive := job.Profile.(taskspec.Interactive)
	loop := &monitor.Loop{
		Source:      &taskSource{task: task},
		Machine:     monitor.NewMachine(interactive),
		Printer:     monitor.NewPrinter(o.out, o.errOut),
		PollTimeout: o.cfg.PollTimeout,
		OnSuccess: func(ctx context.Context) error {
			if err := o.syncWith(ctx, orchestrator.SyncOut, in, out); err != nil {
				return err
			}
			fmt.Fprintf(o.out, "Output synchronized to local '%s' folder.\n", o.cfg.OutputDir)
			return nil
		},
	}
	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Warn("Stopped following task %s; it keeps running remotely.", task.UUID)
	}
	return err
}

func (o *Orchestrator) provisioner(ctx context.Context) (storage.Provisioner, error) {
	if o.store != nil {
		return o.store, nil
	}

	accessKey := o.cfg.StorageAccessKey
	if accessKey == "" {
		info, err := o.conn.UserInfo(ctx)
		if err != nil {
			return nil, err
		}
		accessKey = info.Email
	}
	endpoint := o.cfg.StorageURL
	if endpoint == "" {
		settings, err := o.conn.Settings(ctx)
		if err != nil {
			return nil, err
		}
		endpoint = settings.Storage
	}
	if endpoint == "" {
		return nil, fmt.Errorf("platform did not report a storage endpoint; set %s", config.EnvStorageURL)
	}
	logging.Debug("Using bucket storage at %s", endpoint)

	store, err := storage.NewS3Store(ctx, endpoint, accessKey, o.cfg.Token)
	if err != nil {
		return nil, err
	}
	o.store = store
	return store, nil
}

// taskSource adapts a submitted task to the poll loop.
type taskSource struct {
	task *qarnot.Task
}

func (s *taskSource) FreshOutput(ctx context.Context) (string, string, error) {
	stdout, err := s.task.FreshStdout(ctx)
	if err != nil {
		return "", "", err
	}
	stderr, err := s.task.FreshStderr(ctx)
	if err != nil {
		return "", "", err
	}
	return stdout, stderr, nil
}

func (s *taskSource) Snapshot(ctx context.Context) (monitor.Snapshot, error) {
	if err := s.task.Update(ctx); err != nil {
		return monitor.Snapshot{}, err
	}
	return snapshotOf(s.task), nil
}

func (s *taskSource) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	return s.task.Wait(ctx, timeout)
}

func snapshotOf(t *qarnot.Task) monitor.Snapshot {
	snap := monitor.Snapshot{State: t.State}
	for _, e := range t.Errors {
		snap.Errors = append(snap.Errors, e.String())
	}
	for _, info := range t.Status.RunningInstancesInfo.PerRunningInstanceInfo {
		inst := monitor.Instance{CPU: info.CPUUsage, MemoryMB: info.CurrentMemoryMB}
		for _, f := range info.ActiveForward {
			inst.Forwards = append(inst.Forwards, monitor.Forward{Host: f.ForwarderHost, Port: f.ForwarderPort})
		}
		snap.Instances = append(snap.Instances, inst)
	}
	return snap
}
