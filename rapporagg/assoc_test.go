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
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/rappor/params"
)

func newTestSumBitsAssoc(t *testing.T, numBits1, numBits2, numCohorts int) *SumBitsAssoc {
	t.Helper()
	s, err := NewSumBitsAssoc(&SumBitsAssocOptions{NumBits1: numBits1, NumBits2: numBits2, NumCohorts: numCohorts})
	if err != nil {
		t.Fatalf("NewSumBitsAssoc: %v", err)
	}
	return s
}

func TestJointOffset(t *testing.T) {
	for _, tc := range []struct {
		c, d int
		want int
	}{
		{1, 1, 0},
		{0, 1, 1},
		{1, 0, 2},
		{0, 0, 3},
	} {
		if got := jointOffset(tc.c, tc.d); got != tc.want {
			t.Errorf("jointOffset(%d, %d) = %d, want %d", tc.c, tc.d, got, tc.want)
		}
	}
}

// Every (bitI, bitJ, c, d) combination must land on its own slot of the joint
// row, and the slots must cover the row exactly.
func TestJointIndexIsBijective(t *testing.T) {
	for _, tc := range []struct {
		numBits1, numBits2 int
	}{
		{1, 1}, {2, 3}, {3, 2}, {4, 4}, {8, 1},
	} {
		size := 4 * tc.numBits1 * tc.numBits2
		seen := make([]int, size)
		for bitI := 0; bitI < tc.numBits1; bitI++ {
			for bitJ := 0; bitJ < tc.numBits2; bitJ++ {
				for c := 0; c < 2; c++ {
					for d := 0; d < 2; d++ {
						idx := jointIndex(bitI, bitJ, tc.numBits2, c, d)
						if idx < 0 || idx >= size {
							t.Fatalf("jointIndex(%d, %d, %d, %d, %d) = %d, out of [0, %d)", bitI, bitJ, tc.numBits2, c, d, idx, size)
						}
						seen[idx]++
					}
				}
			}
		}
		for idx, n := range seen {
			if n != 1 {
				t.Errorf("%dx%d bits: joint slot %d used %d times, want 1", tc.numBits1, tc.numBits2, idx, n)
			}
		}
	}
}

func TestSumBitsAssocResult(t *testing.T) {
	s := newTestSumBitsAssoc(t, 4, 4, 2)
	for _, r := range []AssocReport{
		{1, "0011", "1010"},
		{1, "0011", "1010"},
		{1, "0000", "0000"},
	} {
		if err := s.IngestRow(r.Cohort, r.IRR1, r.IRR2); err != nil {
			t.Fatalf("IngestRow(%v): %v", r, err)
		}
	}
	got, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	want := &AssocResult{
		Joint: [][]int64{
			make([]int64, 65),
			{3,
				0, 0, 2, 1, 2, 0, 0, 1, 0, 0, 2, 1, 2, 0, 0, 1,
				0, 0, 2, 1, 2, 0, 0, 1, 0, 0, 2, 1, 2, 0, 0, 1,
				0, 0, 0, 3, 0, 2, 0, 1, 0, 0, 0, 3, 0, 2, 0, 1,
				0, 0, 0, 3, 0, 2, 0, 1, 0, 0, 0, 3, 0, 2, 0, 1},
		},
		Marginal1: [][]int64{{0, 0, 0, 0, 0}, {3, 2, 2, 0, 0}},
		Marginal2: [][]int64{{0, 0, 0, 0, 0}, {3, 0, 2, 0, 2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Result: diff (-want +got):\n%s", diff)
	}
}

func TestSumBitsAssocIngestCSV(t *testing.T) {
	s := newTestSumBitsAssoc(t, 2, 3, 2)
	input := "user_id,cohort,irr1,irr2\n1,0,10,011\n2,1,01,100\n3,0,11,001\n"
	if err := s.IngestCSV(strings.NewReader(input)); err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	got, err := s.Result()
	if err != nil {
		t.Fatal(err)
	}
	wantMarginal1 := [][]int64{{2, 1, 2}, {1, 1, 0}}
	wantMarginal2 := [][]int64{{2, 2, 1, 0}, {1, 0, 0, 1}}
	if diff := cmp.Diff(wantMarginal1, got.Marginal1); diff != "" {
		t.Errorf("Marginal1: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantMarginal2, got.Marginal2); diff != "" {
		t.Errorf("Marginal2: diff (-want +got):\n%s", diff)
	}
	for c, row := range got.Joint {
		if len(row) != 1+4*2*3 {
			t.Fatalf("joint row %d has %d values, want %d", c, len(row), 1+4*2*3)
		}
		// Each bit pair sees every report exactly once.
		for pair := 0; pair < 2*3; pair++ {
			var total int64
			for _, v := range row[1+4*pair : 1+4*pair+4] {
				total += v
			}
			if total != row[0] {
				t.Errorf("cohort %d bit pair %d counts %d outcomes, want %d", c, pair, total, row[0])
			}
		}
	}
}

func TestSumBitsAssocIngestCSVErrors(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		input    string
		wantLine int
	}{
		{"single-variable header", "user_id,cohort,irr\n1,0,10,01\n", 1},
		{"single-variable row", "user_id,cohort,irr1,irr2\n1,0,10\n", 2},
		{"bad second irr", "user_id,cohort,irr1,irr2\n1,0,10,01\n1,0,10,0a\n", 3},
	} {
		s := newTestSumBitsAssoc(t, 2, 2, 1)
		err := s.IngestCSV(strings.NewReader(tc.input))
		var aggErr *AggregationError
		if !errors.As(err, &aggErr) {
			t.Errorf("IngestCSV: when %s got err %v, want *AggregationError", tc.desc, err)
			continue
		}
		if aggErr.Line != tc.wantLine {
			t.Errorf("IngestCSV: when %s got error on line %d, want line %d", tc.desc, aggErr.Line, tc.wantLine)
		}
	}
}

func TestSumBitsAssocRejectionDoesNotMutate(t *testing.T) {
	for _, tc := range []struct {
		desc       string
		cohort     int
		irr1, irr2 string
	}{
		{"first irr too short", 0, "1", "01"},
		{"second irr too long", 0, "10", "011"},
		{"non-binary first irr", 0, "2 ", "01"},
		{"non-binary second irr", 0, "10", "0-"},
		{"cohort equal to NumCohorts", 2, "10", "01"},
		{"negative cohort", -3, "10", "01"},
	} {
		s := newTestSumBitsAssoc(t, 2, 2, 2)
		if err := s.IngestRow(1, "11", "10"); err != nil {
			t.Fatal(err)
		}
		before := snapshotAssoc(t, s)
		err := s.IngestRow(tc.cohort, tc.irr1, tc.irr2)
		var aggErr *AggregationError
		if !errors.As(err, &aggErr) {
			t.Errorf("IngestRow: when %s got err %v, want *AggregationError", tc.desc, err)
		}
		if diff := cmp.Diff(before, snapshotAssoc(t, s)); diff != "" {
			t.Errorf("IngestRow: when %s counts changed (-before +after):\n%s", tc.desc, diff)
		}
	}
}

// snapshotAssoc copies the counts of s without changing its state.
func snapshotAssoc(t *testing.T, s *SumBitsAssoc) *AssocResult {
	t.Helper()
	cp := func(m [][]int64) [][]int64 {
		out := newMatrix(len(m), len(m[0]))
		addMatrix(out, m)
		return out
	}
	return &AssocResult{
		Joint:     countRows(s.numReports, cp(s.joint)),
		Marginal1: countRows(s.numReports, cp(s.sums1)),
		Marginal2: countRows(s.numReports, cp(s.sums2)),
	}
}

func TestSumBitsAssocMergeIsMonoid(t *testing.T) {
	shard1 := []AssocReport{{0, "101", "10"}, {1, "011", "01"}}
	shard2 := []AssocReport{{1, "111", "11"}, {0, "000", "00"}, {1, "100", "10"}}

	ingest := func(s *SumBitsAssoc, reports []AssocReport) {
		for _, r := range reports {
			if err := s.IngestRow(r.Cohort, r.IRR1, r.IRR2); err != nil {
				t.Fatal(err)
			}
		}
	}
	whole := newTestSumBitsAssoc(t, 3, 2, 2)
	ingest(whole, shard1)
	ingest(whole, shard2)
	want, err := whole.Result()
	if err != nil {
		t.Fatal(err)
	}

	a, b := newTestSumBitsAssoc(t, 3, 2, 2), newTestSumBitsAssoc(t, 3, 2, 2)
	ingest(a, shard1)
	ingest(b, shard2)
	if err := b.Merge(a); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got, err := b.Result()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged shards: diff (-want +got):\n%s", diff)
	}
	if err := a.IngestRow(0, "000", "00"); err == nil {
		t.Errorf("IngestRow on a merged SumBitsAssoc: got nil error")
	}
}

func TestSumBitsAssocMergeIncompatible(t *testing.T) {
	for _, tc := range []struct {
		desc string
		opt  SumBitsAssocOptions
	}{
		{"different NumBits1", SumBitsAssocOptions{NumBits1: 3, NumBits2: 2, NumCohorts: 2}},
		{"different NumBits2", SumBitsAssocOptions{NumBits1: 2, NumBits2: 3, NumCohorts: 2}},
		{"different NumCohorts", SumBitsAssocOptions{NumBits1: 2, NumBits2: 2, NumCohorts: 3}},
	} {
		a := newTestSumBitsAssoc(t, 2, 2, 2)
		b := newTestSumBitsAssoc(t, tc.opt.NumBits1, tc.opt.NumBits2, tc.opt.NumCohorts)
		if err := a.Merge(b); err == nil {
			t.Errorf("Merge: when %s got nil error", tc.desc)
		}
	}
}

func TestSumBitsAssocSerialization(t *testing.T) {
	s := newTestSumBitsAssoc(t, 2, 2, 2)
	for _, r := range []AssocReport{{0, "10", "01"}, {1, "11", "00"}} {
		if err := s.IngestRow(r.Cohort, r.IRR1, r.IRR2); err != nil {
			t.Fatal(err)
		}
	}
	want := snapshotAssoc(t, s)
	data, err := s.GobEncode()
	if err != nil {
		t.Fatalf("GobEncode: %v", err)
	}
	if _, err := s.Result(); err == nil {
		t.Errorf("Result after GobEncode: got nil error")
	}
	var decoded SumBitsAssoc
	if err := decoded.GobDecode(data); err != nil {
		t.Fatalf("GobDecode: %v", err)
	}
	got, err := decoded.Result()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded Result: diff (-want +got):\n%s", diff)
	}
}

func TestSumBitsAssocGobDecodeCounts(t *testing.T) {
	for _, tc := range []struct {
		desc       string
		numReports []int64
		sums1      [][]int64
		sums2      [][]int64
		joint      [][]int64
		wantErr    bool
	}{
		{"consistent counts", []int64{2}, [][]int64{{1}}, [][]int64{{1}}, [][]int64{{1, 0, 0, 1}}, false},
		{"marginal above report count", []int64{2}, [][]int64{{3}}, [][]int64{{1}}, [][]int64{{1, 0, 0, 1}}, true},
		{"negative marginal", []int64{2}, [][]int64{{1}}, [][]int64{{-1}}, [][]int64{{1, 0, 0, 1}}, true},
		{"joint above report count", []int64{2}, [][]int64{{1}}, [][]int64{{1}}, [][]int64{{3, 0, 0, 0}}, true},
		{"joint outcomes don't add up", []int64{2}, [][]int64{{1}}, [][]int64{{1}}, [][]int64{{1, 0, 0, 0}}, true},
		{"negative report count", []int64{-1}, [][]int64{{0}}, [][]int64{{0}}, [][]int64{{0, 0, 0, 0}}, true},
	} {
		data, err := encode(encodableSumBitsAssoc{
			NumBits1:   1,
			NumBits2:   1,
			NumCohorts: 1,
			NumReports: tc.numReports,
			Sums1:      tc.sums1,
			Sums2:      tc.sums2,
			Joint:      tc.joint,
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		var s SumBitsAssoc
		if err := s.GobDecode(data); (err != nil) != tc.wantErr {
			t.Errorf("GobDecode: when %s got err %v, wantErr %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestSumBitsAssocOptionsFromParams(t *testing.T) {
	p1, p2 := params.Default(), params.Default()
	p2.NumBits = 8
	got, err := SumBitsAssocOptionsFromParams(p1, p2)
	if err != nil {
		t.Fatalf("SumBitsAssocOptionsFromParams: %v", err)
	}
	want := &SumBitsAssocOptions{NumBits1: 16, NumBits2: 8, NumCohorts: 64}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SumBitsAssocOptionsFromParams: diff (-want +got):\n%s", diff)
	}

	p2.NumCohorts = 32
	_, err = SumBitsAssocOptionsFromParams(p1, p2)
	var configErr *params.ConfigError
	if !errors.As(err, &configErr) {
		t.Errorf("SumBitsAssocOptionsFromParams with different cohorts: got err %v, want *ConfigError", err)
	}
}

func TestNewSumBitsAssocErrors(t *testing.T) {
	for _, tc := range []struct {
		desc string
		opt  *SumBitsAssocOptions
	}{
		{"nil options", nil},
		{"no bits in first variable", &SumBitsAssocOptions{NumBits1: 0, NumBits2: 2, NumCohorts: 1}},
		{"no bits in second variable", &SumBitsAssocOptions{NumBits1: 2, NumBits2: 0, NumCohorts: 1}},
		{"no cohorts", &SumBitsAssocOptions{NumBits1: 2, NumBits2: 2, NumCohorts: 0}},
	} {
		if _, err := NewSumBitsAssoc(tc.opt); err == nil {
			t.Errorf("NewSumBitsAssoc: when %s got nil error", tc.desc)
		}
	}
}
