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

// Package rapporagg aggregates RAPPOR reports into the per-cohort count
// matrices read by the decoder.
//
// SumBits counts, for a single variable, how many reports each cohort received
// and how many of them had each bit set. SumBitsAssoc does the same for two
// variables reported together and also counts the joint outcomes of every bit
// pair, for association analysis.
//
// Aggregation is a commutative monoid: shards of a report stream can be
// aggregated separately and combined with Merge, and the result is the same as
// aggregating the whole stream at once.
//
// Aggregators are not safe for concurrent use.
package rapporagg

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"

	"github.com/google/rappor/checks"
)

// AggregationError reports a malformed report. A malformed report aborts the
// whole stream: skipping it would bias every estimate made from the counts.
type AggregationError struct {
	// Line is the 1-based input line of the report, or 0 when unknown.
	Line int
	Err  error
}

func (e *AggregationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed report on line %d: %v", e.Line, e.Err)
	}
	return "malformed report: " + e.Err.Error()
}

func (e *AggregationError) Unwrap() error { return e.Err }

func aggregationErrorf(format string, a ...interface{}) error {
	return &AggregationError{Err: fmt.Errorf(format, a...)}
}

// Report is one single-variable report row.
type Report struct {
	Cohort int
	IRR    string
}

// AssocReport is one row of two variables reported together.
type AssocReport struct {
	Cohort     int
	IRR1, IRR2 string
}

// ParseReport parses the fields "user_id,cohort,irr" of a report row.
func ParseReport(fields []string) (Report, error) {
	if len(fields) != 3 {
		return Report{}, aggregationErrorf("got %d fields %q, expected user_id,cohort,irr", len(fields), fields)
	}
	cohort, err := parseCohort(fields[1])
	if err != nil {
		return Report{}, err
	}
	return Report{Cohort: cohort, IRR: fields[2]}, nil
}

// ParseAssocReport parses the fields "user_id,cohort,irr1,irr2" of a report row.
func ParseAssocReport(fields []string) (AssocReport, error) {
	if len(fields) != 4 {
		return AssocReport{}, aggregationErrorf("got %d fields %q, expected user_id,cohort,irr1,irr2", len(fields), fields)
	}
	cohort, err := parseCohort(fields[1])
	if err != nil {
		return AssocReport{}, err
	}
	return AssocReport{Cohort: cohort, IRR1: fields[2], IRR2: fields[3]}, nil
}

// IsHeader reports whether the fields of a report row are the CSV header.
func IsHeader(fields []string) bool {
	return len(fields) > 1 && fields[1] == "cohort"
}

func parseCohort(s string) (int, error) {
	cohort, err := strconv.Atoi(s)
	if err != nil {
		return 0, aggregationErrorf("couldn't read cohort = %q as int, err = %v", s, err)
	}
	return cohort, nil
}

// checkCohort returns an *AggregationError if cohort is not in [0, numCohorts).
func checkCohort(cohort, numCohorts int) error {
	if err := checks.CheckCohort(cohort, numCohorts); err != nil {
		return &AggregationError{Err: err}
	}
	return nil
}

// checkIRR returns an *AggregationError unless irr is a string of exactly
// numBits '0' and '1' characters.
func checkIRR(irr string, numBits int) error {
	if len(irr) != numBits {
		return aggregationErrorf("expected %d bits, got %d in %q", numBits, len(irr), irr)
	}
	for i := 0; i < len(irr); i++ {
		if irr[i] != '0' && irr[i] != '1' {
			return aggregationErrorf("invalid IRR %q: character %d is %q, digits should be 0 or 1", irr, i, irr[i])
		}
	}
	return nil
}

// addBits adds the bits of irr to sums. Character t of irr holds bit
// len(irr)-t-1.
func addBits(sums []int64, irr string) {
	numBits := len(irr)
	for t := 0; t < numBits; t++ {
		if irr[t] == '1' {
			sums[numBits-t-1]++
		}
	}
}

func newMatrix(rows, cols int) [][]int64 {
	m := make([][]int64, rows)
	for i := range m {
		m[i] = make([]int64, cols)
	}
	return m
}

func addMatrix(dst, src [][]int64) {
	for i := range dst {
		for j := range dst[i] {
			dst[i][j] += src[i][j]
		}
	}
}

// countRows returns, for each cohort, the report count followed by the
// cohort's counts.
func countRows(numReports []int64, counts [][]int64) [][]int64 {
	rows := make([][]int64, len(numReports))
	for c := range rows {
		row := make([]int64, 0, 1+len(counts[c]))
		row = append(row, numReports[c])
		rows[c] = append(row, counts[c]...)
	}
	return rows
}

func checkShape(name string, m [][]int64, rows, cols int) error {
	if len(m) != rows {
		return fmt.Errorf("%s has %d rows, want %d", name, len(m), rows)
	}
	for i, r := range m {
		if len(r) != cols {
			return fmt.Errorf("%s row %d has %d columns, want %d", name, i, len(r), cols)
		}
	}
	return nil
}

// checkCounts checks that no count of cohort c is negative or larger than
// numReports[c].
func checkCounts(name string, m [][]int64, numReports []int64) error {
	for c, n := range numReports {
		if n < 0 {
			return fmt.Errorf("cohort %d has %d reports, must be non-negative", c, n)
		}
		for i, count := range m[c] {
			if count < 0 || count > n {
				return fmt.Errorf("%s cohort %d column %d counts %d reports out of %d", name, c, i, count, n)
			}
		}
	}
	return nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(v)
	return buf.Bytes(), err
}

func decode(v interface{}, data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
