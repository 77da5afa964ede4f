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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/apache/beam/sdks/v2/go/pkg/beam/testing/ptest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/rappor/params"
	"github.com/google/rappor/rapporagg"
	"github.com/google/rappor/simulation"
)

func TestMain(m *testing.M) {
	ptest.MainWithDefault(m, "direct")
}

const (
	reportsCSV = "user_id,cohort,irr\n" +
		"5,1,0000111100001111\n" +
		"5,1,0000000000111100\n"
	countsCSV = "0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0\n" +
		"2,1,1,2,2,1,1,0,0,1,1,1,1,0,0,0,0\n"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	filename := filepath.Join(dir, name)
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func readTestFile(t *testing.T, filename string) string {
	t.Helper()
	b, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func writeTestParams(t *testing.T, dir string, p params.Params) string {
	t.Helper()
	var buf bytes.Buffer
	if err := p.CSV(&buf); err != nil {
		t.Fatal(err)
	}
	return writeTestFile(t, dir, "params.csv", buf.String())
}

func testParams(numBits, numCohorts int) params.Params {
	p := params.Default()
	p.NumBits = numBits
	p.NumCohorts = numCohorts
	return p
}

func TestSumBits(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		format  string
		useBeam bool
		want    string
	}{
		{"csv", CSVFormat, false, countsCSV},
		{"default format", "", false, countsCSV},
		{"beam", CSVFormat, true, countsCSV},
		{"json", JSONFormat, false, "{\n" +
			"  \"num_reports\": [\n    0,\n    2\n  ],\n" +
			"  \"sums\": [\n" +
			"    0,\n    0,\n    0,\n    0,\n    0,\n    0,\n    0,\n    0,\n" +
			"    0,\n    0,\n    0,\n    0,\n    0,\n    0,\n    0,\n    0,\n" +
			"    1,\n    1,\n    2,\n    2,\n    1,\n    1,\n    0,\n    0,\n" +
			"    1,\n    1,\n    1,\n    1,\n    0,\n    0,\n    0,\n    0\n" +
			"  ]\n}\n"},
	} {
		dir := t.TempDir()
		tool := &SumBits{
			ParamsFile: writeTestParams(t, dir, testParams(16, 2)),
			InputFile:  writeTestFile(t, dir, "reports.csv", reportsCSV),
			OutputFile: filepath.Join(dir, "counts"),
			Format:     tc.format,
			UseBeam:    tc.useBeam,
		}
		if err := Run(context.Background(), tool); err != nil {
			t.Fatalf("SumBits with %s: %v", tc.desc, err)
		}
		if got := readTestFile(t, tool.OutputFile); got != tc.want {
			t.Errorf("SumBits with %s wrote\n%s\nwant\n%s", tc.desc, got, tc.want)
		}
	}
}

func TestSumBitsNoReports(t *testing.T) {
	want := "0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0\n" +
		"0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0\n"
	for _, useBeam := range []bool{false, true} {
		dir := t.TempDir()
		tool := &SumBits{
			ParamsFile: writeTestParams(t, dir, testParams(16, 2)),
			InputFile:  writeTestFile(t, dir, "reports.csv", "user_id,cohort,irr\n"),
			OutputFile: filepath.Join(dir, "counts"),
			UseBeam:    useBeam,
		}
		if err := Run(context.Background(), tool); err != nil {
			t.Fatalf("SumBits (beam=%t): %v", useBeam, err)
		}
		if got := readTestFile(t, tool.OutputFile); got != want {
			t.Errorf("SumBits (beam=%t) of a file without reports wrote\n%s\nwant\n%s", useBeam, got, want)
		}
	}
}

func TestSumBitsErrors(t *testing.T) {
	dir := t.TempDir()
	paramsFile := writeTestParams(t, dir, testParams(16, 2))
	input := writeTestFile(t, dir, "reports.csv", reportsCSV)
	badInput := writeTestFile(t, dir, "bad.csv", "user_id,cohort,irr\n5,2,0000111100001111\n")
	for _, tc := range []struct {
		desc string
		tool *SumBits
	}{
		{"no params file", &SumBits{InputFile: input, OutputFile: filepath.Join(dir, "o")}},
		{"missing input", &SumBits{ParamsFile: paramsFile, InputFile: filepath.Join(dir, "missing"), OutputFile: filepath.Join(dir, "o")}},
		{"unknown format", &SumBits{ParamsFile: paramsFile, InputFile: input, OutputFile: filepath.Join(dir, "o"), Format: "xml"}},
		{"json with beam", &SumBits{ParamsFile: paramsFile, InputFile: input, OutputFile: filepath.Join(dir, "o"), Format: JSONFormat, UseBeam: true}},
		{"cohort out of range", &SumBits{ParamsFile: paramsFile, InputFile: badInput, OutputFile: filepath.Join(dir, "o")}},
	} {
		if err := Run(context.Background(), tc.tool); err == nil {
			t.Errorf("SumBits: when %s got nil error", tc.desc)
		}
	}
}

func TestSumBitsAssoc(t *testing.T) {
	reports := "user_id,cohort,irr1,irr2\n5,1,0011,1010\n5,1,0011,1010\n5,1,0000,0000\n"
	for _, useBeam := range []bool{false, true} {
		dir := t.TempDir()
		tool := &SumBitsAssoc{
			ParamsFile1:         writeTestParams(t, dir, testParams(4, 2)),
			InputFile:           writeTestFile(t, dir, "reports.csv", reports),
			JointOutputFile:     filepath.Join(dir, "joint.csv"),
			Marginal1OutputFile: filepath.Join(dir, "marginal1.csv"),
			Marginal2OutputFile: filepath.Join(dir, "marginal2.csv"),
			UseBeam:             useBeam,
		}
		if err := Run(context.Background(), tool); err != nil {
			t.Fatalf("SumBitsAssoc (beam=%t): %v", useBeam, err)
		}
		for _, tc := range []struct {
			filename string
			want     string
		}{
			{tool.Marginal1OutputFile, "0,0,0,0,0\n3,2,2,0,0\n"},
			{tool.Marginal2OutputFile, "0,0,0,0,0\n3,0,2,0,2\n"},
		} {
			if got := readTestFile(t, tc.filename); got != tc.want {
				t.Errorf("SumBitsAssoc (beam=%t) wrote %s:\n%s\nwant\n%s", useBeam, tc.filename, got, tc.want)
			}
		}
		joint := strings.Split(strings.TrimSpace(readTestFile(t, tool.JointOutputFile)), "\n")
		if len(joint) != 2 || !strings.HasPrefix(joint[1], "3,0,0,2,1,2,0,0,1,0,0,2,1,2,0,0,1,") {
			t.Errorf("SumBitsAssoc (beam=%t) wrote joint rows %q", useBeam, joint)
		}
	}
}

func TestSumBitsAssocDifferentCohorts(t *testing.T) {
	dir := t.TempDir()
	tool := &SumBitsAssoc{
		ParamsFile1:         writeTestParams(t, dir, testParams(4, 2)),
		ParamsFile2:         writeTestParams(t, t.TempDir(), testParams(4, 3)),
		InputFile:           writeTestFile(t, dir, "reports.csv", "user_id,cohort,irr1,irr2\n"),
		JointOutputFile:     filepath.Join(dir, "joint.csv"),
		Marginal1OutputFile: filepath.Join(dir, "marginal1.csv"),
		Marginal2OutputFile: filepath.Join(dir, "marginal2.csv"),
	}
	err := Run(context.Background(), tool)
	var configErr *params.ConfigError
	if !errors.As(err, &configErr) {
		t.Errorf("SumBitsAssoc with 2 and 3 cohorts: got err %v, want *ConfigError", err)
	}
}

func TestShardedSumBits(t *testing.T) {
	shards := []string{
		"user_id,cohort,irr\n5,1,0000111100001111\n",
		"user_id,cohort,irr\n",
		"user_id,cohort,irr\n5,1,0000000000111100\n",
	}
	for _, useSnapshots := range []bool{false, true} {
		dir := t.TempDir()
		tool := &ShardedSumBits{
			ParamsFile:  writeTestParams(t, dir, testParams(16, 2)),
			OutputFile:  filepath.Join(dir, "counts.csv"),
			Parallelism: 2,
		}
		for i, s := range shards {
			tool.InputFiles = append(tool.InputFiles, writeTestFile(t, dir, "reports-"+string(rune('a'+i))+".csv", s))
		}
		if useSnapshots {
			tool.SnapshotDir = filepath.Join(dir, "snapshots")
		}
		if err := Run(context.Background(), tool); err != nil {
			t.Fatalf("ShardedSumBits (snapshots=%t): %v", useSnapshots, err)
		}
		if got := readTestFile(t, tool.OutputFile); got != countsCSV {
			t.Errorf("ShardedSumBits (snapshots=%t) wrote\n%s\nwant\n%s", useSnapshots, got, countsCSV)
		}
		if useSnapshots {
			for i := range shards {
				if _, err := os.Stat(SnapshotFile(tool.SnapshotDir, i)); err != nil {
					t.Errorf("snapshot of shard %d: %v", i, err)
				}
			}
			want := SnapshotFile(tool.SnapshotDir, 0) + "\n" + SnapshotFile(tool.SnapshotDir, 1) + "\n" + SnapshotFile(tool.SnapshotDir, 2) + "\n"
			if got := readTestFile(t, ManifestFile(tool.SnapshotDir)); got != want {
				t.Errorf("snapshot manifest is\n%s\nwant\n%s", got, want)
			}
		}
	}
}

func TestShardedSumBitsBadShard(t *testing.T) {
	dir := t.TempDir()
	tool := &ShardedSumBits{
		ParamsFile: writeTestParams(t, dir, testParams(16, 2)),
		InputFiles: []string{
			writeTestFile(t, dir, "good.csv", reportsCSV),
			writeTestFile(t, dir, "bad.csv", "user_id,cohort,irr\n5,1,01\n"),
		},
		OutputFile: filepath.Join(dir, "counts.csv"),
	}
	if err := Run(context.Background(), tool); err == nil {
		t.Errorf("ShardedSumBits with a malformed shard: got nil error")
	}
	if _, err := os.Stat(tool.OutputFile); !os.IsNotExist(err) {
		t.Errorf("ShardedSumBits with a malformed shard wrote %s", tool.OutputFile)
	}
	tool.InputFiles = nil
	if err := Run(context.Background(), tool); err == nil {
		t.Errorf("ShardedSumBits without input files: got nil error")
	}
}

func TestLoadSnapshots(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := rapporagg.NewSumBits(&rapporagg.SumBitsOptions{NumBits: 4, NumCohorts: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.IngestRow(1, "0101"); err != nil {
		t.Fatal(err)
	}
	snapshot := filepath.Join(dir, "other-process.cbor")
	if err := s.SaveSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	writeTestFile(t, dir, "shards.txt", snapshot+"\n\n")

	shards, err := loadSnapshots(ctx, dir, &rapporagg.SumBitsOptions{NumBits: 4, NumCohorts: 2})
	if err != nil {
		t.Fatalf("loadSnapshots: %v", err)
	}
	if len(shards) != 1 {
		t.Fatalf("loadSnapshots: got %d shards, want 1", len(shards))
	}
	rows, err := shards[0].Result()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]int64{{0, 0, 0, 0, 0}, {1, 1, 0, 1, 0}}, rows); diff != "" {
		t.Errorf("loaded shard: diff (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		desc string
		dir  string
		opt  *rapporagg.SumBitsOptions
	}{
		{"snapshot with other bits", dir, &rapporagg.SumBitsOptions{NumBits: 16, NumCohorts: 2}},
		{"snapshot with other cohorts", dir, &rapporagg.SumBitsOptions{NumBits: 4, NumCohorts: 3}},
		{"no manifest", t.TempDir(), &rapporagg.SumBitsOptions{NumBits: 4, NumCohorts: 2}},
	} {
		if _, err := loadSnapshots(ctx, tc.dir, tc.opt); err == nil {
			t.Errorf("loadSnapshots: when %s got nil error", tc.desc)
		}
	}

	empty := t.TempDir()
	writeTestFile(t, empty, "shards.txt", "\n")
	if _, err := loadSnapshots(ctx, empty, &rapporagg.SumBitsOptions{NumBits: 4, NumCohorts: 2}); err == nil {
		t.Errorf("loadSnapshots with an empty manifest: got nil error")
	}
}

func TestHashCandidates(t *testing.T) {
	dir := t.TempDir()
	tool := &HashCandidates{
		ParamsFile: writeTestParams(t, dir, testParams(16, 2)),
		InputFile:  writeTestFile(t, dir, "candidates.txt", "v1\n"),
		OutputFile: filepath.Join(dir, "map.csv"),
	}
	if err := Run(context.Background(), tool); err != nil {
		t.Fatalf("HashCandidates: %v", err)
	}
	row := strings.Split(strings.TrimSpace(readTestFile(t, tool.OutputFile)), ",")
	// v1 hashes to bits 3 and 6 in cohort 1, columns 16+3+1 and 16+6+1.
	if len(row) != 5 || row[0] != "v1" || row[3] != "20" || row[4] != "23" {
		t.Errorf("HashCandidates wrote row %q", row)
	}
}

// The simulation tools chain into SumBits: the number of reports per cohort
// must match the number of generated values.
func TestSimulationPipeline(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	paramsFile := writeTestParams(t, dir, testParams(16, 4))
	trueValues := filepath.Join(dir, "true_values.csv")
	withCohorts := filepath.Join(dir, "with_cohorts.csv")
	reports := filepath.Join(dir, "reports.csv")
	counts := filepath.Join(dir, "counts.csv")
	for _, tool := range []Tool{
		&GenInput{OutputFile: trueValues, Options: simulation.GenInputOptions{Dist: simulation.Gaussian, NumUniqueValues: 20, NumClients: 50, ValuesPerClient: 2, Seed: 3}},
		&AssignCohorts{ParamsFile: paramsFile, InputFile: trueValues, OutputFile: withCohorts, Seed: 4},
		&Simulate{ParamsFile: paramsFile, InputFile: withCohorts, OutputFile: reports, RandomMode: simulation.FastMode, Seed: 5},
		&SumBits{ParamsFile: paramsFile, InputFile: reports, OutputFile: counts},
	} {
		if err := Run(ctx, tool); err != nil {
			t.Fatalf("%s: %v", tool.Name(), err)
		}
	}
	var numReports int
	for _, line := range strings.Split(strings.TrimSpace(readTestFile(t, counts)), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) != 17 {
			t.Fatalf("counts row %q has %d fields, want 17", line, len(fields))
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			t.Fatal(err)
		}
		numReports += n
	}
	if numReports != 100 {
		t.Errorf("SumBits counted %d reports, want 100", numReports)
	}
}

func TestSimulateAssoc(t *testing.T) {
	dir := t.TempDir()
	tool := &Simulate{
		ParamsFile: writeTestParams(t, dir, testParams(8, 2)),
		InputFile:  writeTestFile(t, dir, "values.csv", "client,cohort,value1,value2\nc1,0,v1,v2\nc2,1,v3,v1\n"),
		OutputFile: filepath.Join(dir, "reports.csv"),
		Assoc:      true,
		RandomMode: simulation.SecureMode,
	}
	if tool.Name() != "sim_assoc" {
		t.Errorf("Name() = %q, want sim_assoc", tool.Name())
	}
	if err := Run(context.Background(), tool); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(readTestFile(t, tool.OutputFile)), "\n")
	if len(lines) != 3 || lines[0] != "user_id,cohort,irr1,irr2" {
		t.Fatalf("Simulate wrote %q", lines)
	}
	for _, l := range lines[1:] {
		fields := strings.Split(l, ",")
		if len(fields) != 4 || len(fields[2]) != 8 || len(fields[3]) != 8 {
			t.Errorf("Simulate wrote row %q, want two 8-bit IRRs", l)
		}
	}
}

func TestBitFractions(t *testing.T) {
	rows := [][]int64{{2, 1, 2}, {2, 0, 1}, {0, 0, 0}}
	for _, tc := range []struct {
		desc    string
		cohorts []int
		want    []float64
	}{
		{"all cohorts", nil, []float64{0.25, 0.75}},
		{"one cohort", []int{1}, []float64{0, 0.5}},
		{"empty cohort", []int{2}, []float64{0, 0}},
	} {
		got, err := bitFractions(rows, tc.cohorts)
		if err != nil {
			t.Fatalf("bitFractions with %s: %v", tc.desc, err)
		}
		if diff := cmp.Diff(tc.want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("bitFractions with %s: diff (-want +got):\n%s", tc.desc, diff)
		}
	}
	if _, err := bitFractions(rows, []int{3}); err == nil {
		t.Errorf("bitFractions with cohort 3 of 3: got nil error")
	}
	if _, err := bitFractions(nil, nil); err == nil {
		t.Errorf("bitFractions without rows: got nil error")
	}
}

func TestPlotCohorts(t *testing.T) {
	dir := t.TempDir()
	tool := &PlotCohorts{
		InputFile:  writeTestFile(t, dir, "counts.csv", countsCSV),
		OutputFile: filepath.Join(dir, "bits.png"),
	}
	if err := Run(context.Background(), tool); err != nil {
		t.Fatalf("PlotCohorts: %v", err)
	}
	if got := readTestFile(t, tool.OutputFile); !strings.HasPrefix(got, "\x89PNG") {
		t.Errorf("PlotCohorts did not write a PNG image")
	}
	tool.OutputFile = filepath.Join(dir, "bits")
	if err := Run(context.Background(), tool); err == nil {
		t.Errorf("PlotCohorts without an image extension: got nil error")
	}
}
