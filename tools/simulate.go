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

package tools

import (
	"context"
	"io"

	"github.com/google/rappor/candidates"
	"github.com/google/rappor/simulation"
)

// HashCandidates maps a file of candidate strings, one per line, to the
// Bloom filter columns they set in every cohort.
type HashCandidates struct {
	ParamsFile string
	InputFile  string
	OutputFile string
}

// Name implements Tool.
func (t *HashCandidates) Name() string { return "hash_candidates" }

// Run implements Tool.
func (t *HashCandidates) Run(ctx context.Context) error {
	p, err := loadParams(ctx, t.ParamsFile)
	if err != nil {
		return err
	}
	return readFile(ctx, t.InputFile, func(r io.Reader) error {
		return writeFile(ctx, t.OutputFile, func(w io.Writer) error {
			return candidates.Map(r, w, p)
		})
	})
}

// GenInput writes the true values of a synthetic client population.
type GenInput struct {
	OutputFile string
	Options    simulation.GenInputOptions
}

// Name implements Tool.
func (t *GenInput) Name() string { return "gen_input" }

// Run implements Tool.
func (t *GenInput) Run(ctx context.Context) error {
	return writeFile(ctx, t.OutputFile, func(w io.Writer) error {
		return simulation.GenerateInput(w, &t.Options)
	})
}

// AssignCohorts gives every client of a "client,true_value" file a cohort
// drawn from the cohorts of the params file.
type AssignCohorts struct {
	ParamsFile string
	InputFile  string
	OutputFile string
	Seed       uint64
}

// Name implements Tool.
func (t *AssignCohorts) Name() string { return "assign_cohorts" }

// Run implements Tool.
func (t *AssignCohorts) Run(ctx context.Context) error {
	p, err := loadParams(ctx, t.ParamsFile)
	if err != nil {
		return err
	}
	return readFile(ctx, t.InputFile, func(r io.Reader) error {
		return writeFile(ctx, t.OutputFile, func(w io.Writer) error {
			return simulation.AssignCohorts(r, w, p.NumCohorts, t.Seed)
		})
	})
}

// Simulate encodes the values of simulated clients into reports. Assoc
// selects the two-variable input "client,cohort,value1,value2".
type Simulate struct {
	ParamsFile    string
	InputFile     string
	OutputFile    string
	Assoc         bool
	RandomMode    string
	Seed          uint64
	RandomSecrets bool
}

// Name implements Tool.
func (t *Simulate) Name() string {
	if t.Assoc {
		return "sim_assoc"
	}
	return "sim"
}

// Run implements Tool.
func (t *Simulate) Run(ctx context.Context) error {
	p, err := loadParams(ctx, t.ParamsFile)
	if err != nil {
		return err
	}
	opt := &simulation.EncodeOptions{Params: p, RandomMode: t.RandomMode, Seed: t.Seed, RandomSecrets: t.RandomSecrets}
	encode := simulation.EncodeClients
	if t.Assoc {
		encode = simulation.EncodeAssocClients
	}
	return readFile(ctx, t.InputFile, func(r io.Reader) error {
		return writeFile(ctx, t.OutputFile, func(w io.Writer) error {
			return encode(r, w, opt)
		})
	})
}
