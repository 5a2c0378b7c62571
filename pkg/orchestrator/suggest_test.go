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

package orchestrator

import "testing"

func TestDidYouMean(t *testing.T) {
	tests := []struct {
		got        string
		candidates []string
		want       string
	}{
		{"inn", []string{SyncIn, SyncOut}, " Did you mean 'in'?"},
		{"OUT ", []string{SyncIn, SyncOut}, " Did you mean 'out'?"},
		{"ot", []string{SyncIn, SyncOut}, " Did you mean 'out'?"},
		{"sideways", []string{SyncIn, SyncOut}, ""},
		{"yml", []string{"json", "yaml"}, " Did you mean 'yaml'?"},
		{"xml", []string{"json", "yaml"}, ""},
	}
	for _, tt := range tests {
		if got := DidYouMean(tt.got, tt.candidates...); got != tt.want {
			t.Errorf("DidYouMean(%q, %v) = %q, want %q", tt.got, tt.candidates, got, tt.want)
		}
	}
}
