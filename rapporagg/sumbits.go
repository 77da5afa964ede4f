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

import (
	"fmt"

	"github.com/google/rappor/checks"
	"github.com/google/rappor/params"
)

// SumBits counts single-variable reports per cohort.
//
// Not thread-safe.
type SumBits struct {
	// Parameters
	numBits    int
	numCohorts int

	// State variables
	numReports []int64
	sums       [][]int64 // sums[cohort][bit]
	state      aggregationState
}

// SumBitsOptions contains the options necessary to initialize a SumBits.
type SumBitsOptions struct {
	NumBits    int // Required.
	NumCohorts int // Required.
}

// SumBitsOptionsFromParams returns the SumBitsOptions matching p.
func SumBitsOptionsFromParams(p params.Params) *SumBitsOptions {
	return &SumBitsOptions{NumBits: p.NumBits, NumCohorts: p.NumCohorts}
}

// NewSumBits returns a new, empty SumBits.
func NewSumBits(opt *SumBitsOptions) (*SumBits, error) {
	if opt == nil {
		opt = &SumBitsOptions{}
	}
	if err := checks.CheckNumBits(opt.NumBits, 0); err != nil {
		return nil, &params.ConfigError{Err: fmt.Errorf("NewSumBits: %v", err)}
	}
	if err := checks.CheckNumCohorts(opt.NumCohorts); err != nil {
		return nil, &params.ConfigError{Err: fmt.Errorf("NewSumBits: %v", err)}
	}
	return &SumBits{
		numBits:    opt.NumBits,
		numCohorts: opt.NumCohorts,
		numReports: make([]int64, opt.NumCohorts),
		sums:       newMatrix(opt.NumCohorts, opt.NumBits),
		state:      empty,
	}, nil
}

// NumBits returns the number of bits of the aggregated reports.
func (s *SumBits) NumBits() int { return s.numBits }

// NumCohorts returns the number of cohorts.
func (s *SumBits) NumCohorts() int { return s.numCohorts }

// CheckReport returns an *AggregationError if IngestRow would reject the
// report.
func (s *SumBits) CheckReport(cohort int, irr string) error {
	if err := checkIRR(irr, s.numBits); err != nil {
		return err
	}
	return checkCohort(cohort, s.numCohorts)
}

// IngestRow adds a report of cohort whose IRR is rendered most significant
// bit first. A malformed report returns an *AggregationError and leaves the
// counts untouched.
func (s *SumBits) IngestRow(cohort int, irr string) error {
	if !s.state.open() {
		return fmt.Errorf("SumBits cannot be amended: %v", s.state.errorMessage())
	}
	if err := s.CheckReport(cohort, irr); err != nil {
		return err
	}
	addBits(s.sums[cohort], irr)
	s.numReports[cohort]++
	s.state = accumulating
	return nil
}

// Merge merges s2 into s (i.e., adds to s all reports that were added to s2).
// s2 is consumed by this operation: s2 may not be used after it is merged
// into s.
func (s *SumBits) Merge(s2 *SumBits) error {
	if err := checkMergeSumBits(s, s2); err != nil {
		return err
	}
	for c := range s.numReports {
		s.numReports[c] += s2.numReports[c]
	}
	addMatrix(s.sums, s2.sums)
	if s2.state == accumulating {
		s.state = accumulating
	}
	s2.state = merged
	return nil
}

func checkMergeSumBits(s1, s2 *SumBits) error {
	if !s1.state.open() {
		return fmt.Errorf("checkMergeSumBits: s1 cannot be merged with another SumBits instance: %v", s1.state.errorMessage())
	}
	if !s2.state.open() {
		return fmt.Errorf("checkMergeSumBits: s2 cannot be merged with another SumBits instance: %v", s2.state.errorMessage())
	}
	if s1.numBits != s2.numBits || s1.numCohorts != s2.numCohorts {
		return fmt.Errorf("checkMergeSumBits: s1 (%d bits, %d cohorts) and s2 (%d bits, %d cohorts) are not compatible",
			s1.numBits, s1.numCohorts, s2.numBits, s2.numCohorts)
	}
	return nil
}

// Result returns one row per cohort, including cohorts without reports: the
// number of reports followed by the count of reports with bit 0 set, bit 1
// set, and so on up to bit NumBits-1. The method can be called only once.
func (s *SumBits) Result() ([][]int64, error) {
	if !s.state.open() {
		return nil, fmt.Errorf("SumBits's result cannot be computed: %v", s.state.errorMessage())
	}
	s.state = finalized
	return countRows(s.numReports, s.sums), nil
}

// Snapshot is the serializable state of a SumBits.
type Snapshot struct {
	NumBits    int
	NumCohorts int
	NumReports []int64
	Sums       [][]int64
}

// Snapshot returns a copy of the current counts. It doesn't change the state
// of s.
func (s *SumBits) Snapshot() (*Snapshot, error) {
	if !s.state.open() && s.state != serialized {
		return nil, fmt.Errorf("SumBits object cannot be serialized: %v", s.state.errorMessage())
	}
	snap := &Snapshot{
		NumBits:    s.numBits,
		NumCohorts: s.numCohorts,
		NumReports: append([]int64(nil), s.numReports...),
		Sums:       newMatrix(s.numCohorts, s.numBits),
	}
	addMatrix(snap.Sums, s.sums)
	return snap, nil
}

// FromSnapshot returns a SumBits holding the counts of snap.
func FromSnapshot(snap *Snapshot) (*SumBits, error) {
	s, err := NewSumBits(&SumBitsOptions{NumBits: snap.NumBits, NumCohorts: snap.NumCohorts})
	if err != nil {
		return nil, err
	}
	if len(snap.NumReports) != snap.NumCohorts {
		return nil, fmt.Errorf("snapshot has %d report counts, want %d", len(snap.NumReports), snap.NumCohorts)
	}
	if err := checkShape("snapshot sums", snap.Sums, snap.NumCohorts, snap.NumBits); err != nil {
		return nil, err
	}
	if err := checkCounts("snapshot sums", snap.Sums, snap.NumReports); err != nil {
		return nil, err
	}
	for c, n := range snap.NumReports {
		s.numReports[c] = n
		if n > 0 {
			s.state = accumulating
		}
	}
	addMatrix(s.sums, snap.Sums)
	return s, nil
}

// GobEncode encodes SumBits.
func (s *SumBits) GobEncode() ([]byte, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	s.state = serialized
	return encode(snap)
}

// GobDecode decodes SumBits.
func (s *SumBits) GobDecode(data []byte) error {
	var snap Snapshot
	if err := decode(&snap, data); err != nil {
		return fmt.Errorf("couldn't decode SumBits from bytes: %v", err)
	}
	decoded, err := FromSnapshot(&snap)
	if err != nil {
		return fmt.Errorf("couldn't decode SumBits from bytes: %v", err)
	}
	*s = *decoded
	return nil
}
