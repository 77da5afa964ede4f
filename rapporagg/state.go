//
// Copyright 2020 Google LLC
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
//

package rapporagg

type aggregationState int

const (
	// empty aggregators have been created but haven't seen a report.
	empty aggregationState = iota
	accumulating
	merged
	serialized
	finalized
)

var errorMessages = map[aggregationState]string{
	empty:        "",
	accumulating: "",
	merged:       "Object has been already merged",
	serialized:   "Object has been already serialized",
	finalized:    "Result has already been computed and returned",
}

var stateName = map[aggregationState]string{
	empty:        "Empty",
	accumulating: "Accumulating",
	merged:       "Merged",
	serialized:   "Serialized",
	finalized:    "Finalized",
}

func (s aggregationState) errorMessage() string {
	return errorMessages[s]
}

func (s aggregationState) String() string {
	return stateName[s]
}

// open reports whether an aggregator in state s still accepts reports.
func (s aggregationState) open() bool {
	return s == empty || s == accumulating
}
