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
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Printer renders task output and events for a human.
type Printer struct {
	Out io.Writer
	Err io.Writer
	Now func() time.Time

	errColor *color.Color
}

// NewPrinter writes task stdout and events to out and task stderr to errW.
// Stderr lines are red when errW is a terminal.
func NewPrinter(out, errW io.Writer) *Printer {
	c := color.New(color.FgRed)
	if f, ok := errW.(*os.File); ok && isatty.IsTerminal(f.Fd()) && os.Getenv("TERM") != "dumb" {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return &Printer{Out: out, Err: errW, Now: time.Now, errColor: c}
}

// Output prints freshly drained stdout and stderr chunks line by line.
// Escaped newlines sent by some containers are expanded.
func (p *Printer) Output(stdout, stderr string) {
	for _, line := range splitLines(stdout) {
		fmt.Fprintln(p.Out, line)
	}
	for _, line := range splitLines(stderr) {
		p.errColor.Fprintln(p.Err, line)
	}
}

// Event prints one event.
func (p *Printer) Event(ev Event) {
	switch e := ev.(type) {
	case Transition:
		fmt.Fprintf(p.Out, "** %s\n", e.To)
	case Telemetry:
		fmt.Fprintf(p.Out, "-- %s | instance %d | %.2f %% CPU | %.2f MB MEMORY\n",
			p.Now().Format("2006-01-02 15:04:05"), e.Index, e.Instance.CPU, e.Instance.MemoryMB)
	case SSHReady:
		fmt.Fprintln(p.Out, "SSH is available ! Connect using this command :")
		fmt.Fprintln(p.Out, SSHCommand(e.Forward))
	case Failed:
		fmt.Fprintf(p.Out, "-- Errors: %s\n", e.Message)
	case Succeeded:
		fmt.Fprintln(p.Out, "-- Task completed successfully.")
	}
}

// SSHCommand is the ready-to-use command for a forward.
func SSHCommand(f Forward) string {
	return fmt.Sprintf("ssh -o StrictHostKeyChecking=no root@%s -p %d", f.Host, f.Port)
}

func splitLines(chunk string) []string {
	if chunk == "" {
		return nil
	}
	chunk = strings.ReplaceAll(chunk, `\n`, "\n")
	chunk = strings.TrimRight(chunk, "\n")
	if chunk == "" {
		return nil
	}
	return strings.Split(chunk, "\n")
}
