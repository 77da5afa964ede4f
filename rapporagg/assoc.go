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

// jointOffsets[c][d] is the position, within the 4 counts of a bit pair, of
// the outcome where the first variable's bit is c and the second's is d. The
// four counts are stored in the order (1,1), (0,1), (1,0), (0,0).
var jointOffsets = [2][2]int{{3, 1}, {2, 0}}

// jointOffset returns jointOffsets[c][d] for bits c and d in {0, 1}.
func jointOffset(c, d int) int {
	return jointOffsets[c][d]
}

// jointIndex returns where the outcome (c, d) of the bit pair (bitI, bitJ) is
// counted in a joint row, given the second variable has numBits2 bits.
func jointIndex(bitI, bitJ, numBits2, c, d int) int {
	return 4*(bitI*numBits2+bitJ) + jointOffset(c, d)
}

// SumBitsAssoc counts reports of two variables per cohort: the marginal bit
// counts of each variable and the joint outcomes of every pair of bits.
//
// Not thread-safe.
type SumBitsAssoc struct {
	// Parameters
	numBits1   int
	numBits2   int
	numCohorts int

	// State variables
	numReports []int64
	sums1      [][]int64 // sums1[cohort][bit]
	sums2      [][]int64 // sums2[cohort][bit]
	joint      [][]int64 // joint[cohort][jointIndex(...)]
	state      aggregationState
}

// SumBitsAssocOptions contains the options necessary to initialize a
// SumBitsAssoc.
type SumBitsAssocOptions struct {
	NumBits1   int // Required. Bits of the first variable.
	NumBits2   int // Required. Bits of the second variable.
	NumCohorts int // Required.
}

// SumBitsAssocOptionsFromParams returns the SumBitsAssocOptions for two
// variables encoded with p1 and p2. Both must use the same cohorts.
func SumBitsAssocOptionsFromParams(p1, p2 params.Params) (*SumBitsAssocOptions, error) {
	if p1.NumCohorts != p2.NumCohorts {
		return nil, &params.ConfigError{Err: fmt.Errorf("variables use %d and %d cohorts, must be equal", p1.NumCohorts, p2.NumCohorts)}
	}
	return &SumBitsAssocOptions{NumBits1: p1.NumBits, NumBits2: p2.NumBits, NumCohorts: p1.NumCohorts}, nil
}

// AssocResult holds the rows produced by SumBitsAssoc, one per cohort in each
// matrix.
type AssocResult struct {
	// Joint rows hold the report count followed by 4*NumBits1*NumBits2 joint
	// counts.
	Joint [][]int64
	// Marginal1 and Marginal2 rows have the same layout as SumBits rows.
	Marginal1 [][]int64
	Marginal2 [][]int64
}

// NewSumBitsAssoc returns a new, empty SumBitsAssoc.
func NewSumBitsAssoc(opt *SumBitsAssocOptions) (*SumBitsAssoc, error) {
	if opt == nil {
		opt = &SumBitsAssocOptions{}
	}
	for _, err := range []error{
		checks.CheckNumBits(opt.NumBits1, 0),
		checks.CheckNumBits(opt.NumBits2, 0),
		checks.CheckNumCohorts(opt.NumCohorts),
	} {
		if err != nil {
			return nil, &params.ConfigError{Err: fmt.Errorf("NewSumBitsAssoc: %v", err)}
		}
	}
	return &SumBitsAssoc{
		numBits1:   opt.NumBits1,
		numBits2:   opt.NumBits2,
		numCohorts: opt.NumCohorts,
		numReports: make([]int64, opt.NumCohorts),
		sums1:      newMatrix(opt.NumCohorts, opt.NumBits1),
		sums2:      newMatrix(opt.NumCohorts, opt.NumBits2),
		joint:      newMatrix(opt.NumCohorts, 4*opt.NumBits1*opt.NumBits2),
		state:      empty,
	}, nil
}

// CheckReport returns an *AggregationError if IngestRow would reject the
// report.
func (s *SumBitsAssoc) CheckReport(cohort int, irr1, irr2 string) error {
	if err := checkIRR(irr1, s.numBits1); err != nil {
		return err
	}
	if err := checkIRR(irr2, s.numBits2); err != nil {
		return err
	}
	return checkCohort(cohort, s.numCohorts)
}

// IngestRow adds a report of cohort carrying the IRRs of both variables, each
// rendered most significant bit first. A malformed report returns an
// *AggregationError and leaves the counts untouched.
func (s *SumBitsAssoc) IngestRow(cohort int, irr1, irr2 string) error {
	if !s.state.open() {
		return fmt.Errorf("SumBitsAssoc cannot be amended: %v", s.state.errorMessage())
	}
	if err := s.CheckReport(cohort, irr1, irr2); err != nil {
		return err
	}
	addBits(s.sums1[cohort], irr1)
	addBits(s.sums2[cohort], irr2)
	joint := s.joint[cohort]
	for i := 0; i < s.numBits1; i++ {
		bitI := s.numBits1 - i - 1
		c := int(irr1[i] - '0')
		for j := 0; j < s.numBits2; j++ {
			bitJ := s.numBits2 - j - 1
			d := int(irr2[j] - '0')
			joint[jointIndex(bitI, bitJ, s.numBits2, c, d)]++
		}
	}
	s.numReports[cohort]++
	s.state = accumulating
	return nil
}

// Merge merges s2 into s (i.e., adds to s all reports that were added to s2).
// s2 is consumed by this operation: s2 may not be used after it is merged
// into s.
func (s *SumBitsAssoc) Merge(s2 *SumBitsAssoc) error {
	if err := checkMergeSumBitsAssoc(s, s2); err != nil {
		return err
	}
	for c := range s.numReports {
		s.numReports[c] += s2.numReports[c]
	}
	addMatrix(s.sums1, s2.sums1)
	addMatrix(s.sums2, s2.sums2)
	addMatrix(s.joint, s2.joint)
	if s2.state == accumulating {
		s.state = accumulating
	}
	s2.state = merged
	return nil
}

func checkMergeSumBitsAssoc(s1, s2 *SumBitsAssoc) error {
	if !s1.state.open() {
		return fmt.Errorf("checkMergeSumBitsAssoc: s1 cannot be merged with another SumBitsAssoc instance: %v", s1.state.errorMessage())
	}
	if !s2.state.open() {
		return fmt.Errorf("checkMergeSumBitsAssoc: s2 cannot be merged with another SumBitsAssoc instance: %v", s2.state.errorMessage())
	}
	if s1.numBits1 != s2.numBits1 || s1.numBits2 != s2.numBits2 || s1.numCohorts != s2.numCohorts {
		return fmt.Errorf("checkMergeSumBitsAssoc: s1 (%dx%d bits, %d cohorts) and s2 (%dx%d bits, %d cohorts) are not compatible",
			s1.numBits1, s1.numBits2, s1.numCohorts, s2.numBits1, s2.numBits2, s2.numCohorts)
	}
	return nil
}

// Result returns the joint and marginal rows of every cohort, including
// cohorts without reports. The method can be called only once.
func (s *SumBitsAssoc) Result() (*AssocResult, error) {
	if !s.state.open() {
		return nil, fmt.Errorf("SumBitsAssoc's result cannot be computed: %v", s.state.errorMessage())
	}
	s.state = finalized
	return &AssocResult{
		Joint:     countRows(s.numReports, s.joint),
		Marginal1: countRows(s.numReports, s.sums1),
		Marginal2: countRows(s.numReports, s.sums2),
	}, nil
}

// checkJointTotals checks that the four outcome counts of every bit pair of
// cohort c add up to numReports[c].
func checkJointTotals(joint [][]int64, numReports []int64) error {
	for c, n := range numReports {
		for i := 0; i < len(joint[c]); i += 4 {
			if total := joint[c][i] + joint[c][i+1] + joint[c][i+2] + joint[c][i+3]; total != n {
				return fmt.Errorf("joint cohort %d pair %d counts %d outcomes, want %d", c, i/4, total, n)
			}
		}
	}
	return nil
}

type encodableSumBitsAssoc struct {
	NumBits1   int
	NumBits2   int
	NumCohorts int
	NumReports []int64
	Sums1      [][]int64
	Sums2      [][]int64
	Joint      [][]int64
}

// GobEncode encodes SumBitsAssoc.
func (s *SumBitsAssoc) GobEncode() ([]byte, error) {
	if !s.state.open() && s.state != serialized {
		return nil, fmt.Errorf("SumBitsAssoc object cannot be serialized: %v", s.state.errorMessage())
	}
	enc := encodableSumBitsAssoc{
		NumBits1:   s.numBits1,
		NumBits2:   s.numBits2,
		NumCohorts: s.numCohorts,
		NumReports: s.numReports,
		Sums1:      s.sums1,
		Sums2:      s.sums2,
		Joint:      s.joint,
	}
	s.state = serialized
	return encode(enc)
}

// GobDecode decodes SumBitsAssoc.
func (s *SumBitsAssoc) GobDecode(data []byte) error {
	var enc encodableSumBitsAssoc
	if err := decode(&enc, data); err != nil {
		return fmt.Errorf("couldn't decode SumBitsAssoc from bytes: %v", err)
	}
	decoded, err := NewSumBitsAssoc(&SumBitsAssocOptions{NumBits1: enc.NumBits1, NumBits2: enc.NumBits2, NumCohorts: enc.NumCohorts})
	if err != nil {
		return fmt.Errorf("couldn't decode SumBitsAssoc from bytes: %v", err)
	}
	if len(enc.NumReports) != enc.NumCohorts {
		return fmt.Errorf("couldn't decode SumBitsAssoc from bytes: %d report counts for %d cohorts", len(enc.NumReports), enc.NumCohorts)
	}
	for _, m := range []struct {
		name     string
		src, dst [][]int64
		cols     int
	}{
		{"sums1", enc.Sums1, decoded.sums1, enc.NumBits1},
		{"sums2", enc.Sums2, decoded.sums2, enc.NumBits2},
		{"joint", enc.Joint, decoded.joint, 4 * enc.NumBits1 * enc.NumBits2},
	} {
		if err := checkShape(m.name, m.src, enc.NumCohorts, m.cols); err != nil {
			return fmt.Errorf("couldn't decode SumBitsAssoc from bytes: %v", err)
		}
		if err := checkCounts(m.name, m.src, enc.NumReports); err != nil {
			return fmt.Errorf("couldn't decode SumBitsAssoc from bytes: %v", err)
		}
		addMatrix(m.dst, m.src)
	}
	if err := checkJointTotals(enc.Joint, enc.NumReports); err != nil {
		return fmt.Errorf("couldn't decode SumBitsAssoc from bytes: %v", err)
	}
	copy(decoded.numReports, enc.NumReports)
	for _, n := range enc.NumReports {
		if n > 0 {
			decoded.state = accumulating
		}
	}
	*s = *decoded
	return nil
}
