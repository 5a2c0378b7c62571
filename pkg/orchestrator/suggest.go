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

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"
)

// maxSuggestDistance is the largest edit distance still worth a hint.
const maxSuggestDistance = 1

// DidYouMean returns a " Did you mean 'x'?" hint naming the candidate closest
// to got, or an empty string when none is close enough.
func DidYouMean(got string, candidates ...string) string {
	got = strings.ToLower(strings.TrimSpace(got))
	best, bestDist := "", maxSuggestDistance+1
	for _, c := range candidates {
		if d := levenshtein.Distance(got, c, nil); d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" Did you mean '%s'?", best)
}
