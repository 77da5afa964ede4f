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
	"fmt"
	"strings"

	log "github.com/golang/glog"
	"github.com/google/rappor/internal/fileio"
	"github.com/google/rappor/rapporagg"
	"github.com/google/rappor/rapporbeam"
	"golang.org/x/sync/errgroup"
)

// SumBits aggregates a "user_id,cohort,irr" report file into one row of counts
// per cohort.
type SumBits struct {
	ParamsFile string
	InputFile  string
	OutputFile string
	// Format is CSVFormat or JSONFormat. Defaults to CSVFormat.
	Format string
	// UseBeam runs the aggregation as a Beam pipeline on the direct runner.
	// Only CSVFormat is supported with Beam.
	UseBeam bool
}

// Name implements Tool.
func (t *SumBits) Name() string { return "sum_bits" }

// Run implements Tool.
func (t *SumBits) Run(ctx context.Context) error {
	p, err := loadParams(ctx, t.ParamsFile)
	if err != nil {
		return err
	}
	if err := checkFormat(t.Format); err != nil {
		return err
	}
	if t.UseBeam {
		if t.Format == JSONFormat {
			return fmt.Errorf("the Beam pipeline only writes %q output", CSVFormat)
		}
		return rapporbeam.RunSumBits(ctx, t.InputFile, t.OutputFile, p)
	}
	s, err := rapporagg.NewSumBits(rapporagg.SumBitsOptionsFromParams(p))
	if err != nil {
		return err
	}
	if err := readFile(ctx, t.InputFile, s.IngestCSV); err != nil {
		return err
	}
	rows, err := s.Result()
	if err != nil {
		return err
	}
	return writeRows(ctx, rows, t.OutputFile, t.Format)
}

// SumBitsAssoc aggregates a "user_id,cohort,irr1,irr2" report file into the
// joint counts of both variables and the marginal counts of each.
type SumBitsAssoc struct {
	// ParamsFile1 holds the parameters of the first variable.
	ParamsFile1 string
	// ParamsFile2 holds the parameters of the second variable. Defaults to
	// ParamsFile1.
	ParamsFile2         string
	InputFile           string
	JointOutputFile     string
	Marginal1OutputFile string
	Marginal2OutputFile string
	UseBeam             bool
}

// Name implements Tool.
func (t *SumBitsAssoc) Name() string { return "sum_bits_assoc" }

// Run implements Tool.
func (t *SumBitsAssoc) Run(ctx context.Context) error {
	p1, err := loadParams(ctx, t.ParamsFile1)
	if err != nil {
		return err
	}
	p2 := p1
	if t.ParamsFile2 != "" {
		if p2, err = loadParams(ctx, t.ParamsFile2); err != nil {
			return err
		}
	}
	if t.UseBeam {
		return rapporbeam.RunSumBitsAssoc(ctx, t.InputFile, t.JointOutputFile, t.Marginal1OutputFile, t.Marginal2OutputFile, p1, p2)
	}
	opt, err := rapporagg.SumBitsAssocOptionsFromParams(p1, p2)
	if err != nil {
		return err
	}
	s, err := rapporagg.NewSumBitsAssoc(opt)
	if err != nil {
		return err
	}
	if err := readFile(ctx, t.InputFile, s.IngestCSV); err != nil {
		return err
	}
	res, err := s.Result()
	if err != nil {
		return err
	}
	for _, out := range []struct {
		rows     [][]int64
		filename string
	}{
		{res.Joint, t.JointOutputFile},
		{res.Marginal1, t.Marginal1OutputFile},
		{res.Marginal2, t.Marginal2OutputFile},
	} {
		if err := writeRows(ctx, out.rows, out.filename, CSVFormat); err != nil {
			return err
		}
	}
	return nil
}

// ShardedSumBits aggregates several report files in parallel and merges the
// per-shard counts. With SnapshotDir set, every shard's counts are saved there
// as a CBOR snapshot listed in the ManifestFile of the directory, and the
// merge reads the listed snapshots back, so shards can also be produced by
// other processes.
type ShardedSumBits struct {
	ParamsFile string
	InputFiles []string
	// SnapshotDir is a local directory or a gs:// prefix. Optional.
	SnapshotDir string
	OutputFile  string
	Format      string
	// Parallelism bounds the number of shards aggregated at once. 0 means no
	// bound.
	Parallelism int
}

// Name implements Tool.
func (t *ShardedSumBits) Name() string { return "sharded_sum_bits" }

// SnapshotFile returns the name of the snapshot of shard i in dir.
func SnapshotFile(dir string, i int) string {
	return fileio.JoinPath(dir, fmt.Sprintf("shard-%05d.cbor", i))
}

// ManifestFile returns the name of the file listing the snapshots in dir, one
// per line.
func ManifestFile(dir string) string {
	return fileio.JoinPath(dir, "shards.txt")
}

// Run implements Tool.
func (t *ShardedSumBits) Run(ctx context.Context) error {
	p, err := loadParams(ctx, t.ParamsFile)
	if err != nil {
		return err
	}
	if err := checkFormat(t.Format); err != nil {
		return err
	}
	if len(t.InputFiles) == 0 {
		return fmt.Errorf("no input files were chosen")
	}
	opt := rapporagg.SumBitsOptionsFromParams(p)
	shards := make([]*rapporagg.SumBits, len(t.InputFiles))

	g, gctx := errgroup.WithContext(ctx)
	if t.Parallelism > 0 {
		g.SetLimit(t.Parallelism)
	}
	for i, input := range t.InputFiles {
		i, input := i, input
		g.Go(func() error {
			s, err := rapporagg.NewSumBits(opt)
			if err != nil {
				return err
			}
			if err := readFile(gctx, input, s.IngestCSV); err != nil {
				return err
			}
			if t.SnapshotDir != "" {
				return s.SaveSnapshot(gctx, SnapshotFile(t.SnapshotDir, i))
			}
			shards[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if t.SnapshotDir != "" {
		names := make([]string, len(t.InputFiles))
		for i := range names {
			names[i] = SnapshotFile(t.SnapshotDir, i)
		}
		if err := fileio.WriteLines(ctx, names, ManifestFile(t.SnapshotDir)); err != nil {
			return fmt.Errorf("couldn't write the snapshot manifest, err = %v", err)
		}
		if shards, err = loadSnapshots(ctx, t.SnapshotDir, opt); err != nil {
			return err
		}
	}
	total, err := rapporagg.NewSumBits(opt)
	if err != nil {
		return err
	}
	for i, s := range shards {
		if err := total.Merge(s); err != nil {
			return fmt.Errorf("couldn't merge shard %d, err = %v", i, err)
		}
	}
	log.Infof("Merged %d shards", len(shards))
	rows, err := total.Result()
	if err != nil {
		return err
	}
	return writeRows(ctx, rows, t.OutputFile, t.Format)
}

// loadSnapshots reads the snapshots listed in the manifest of dir and checks
// that they were aggregated with the options of opt.
func loadSnapshots(ctx context.Context, dir string, opt *rapporagg.SumBitsOptions) ([]*rapporagg.SumBits, error) {
	lines, err := fileio.ReadLines(ctx, ManifestFile(dir))
	if err != nil {
		return nil, fmt.Errorf("couldn't read the snapshot manifest of %q, err = %v", dir, err)
	}
	var names []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("the snapshot manifest of %q lists no snapshots", dir)
	}

	shards := make([]*rapporagg.SumBits, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			s, err := rapporagg.LoadSnapshot(gctx, name)
			if err != nil {
				return err
			}
			if s.NumBits() != opt.NumBits || s.NumCohorts() != opt.NumCohorts {
				return fmt.Errorf("snapshot %q has %d bits and %d cohorts, want %d bits and %d cohorts",
					name, s.NumBits(), s.NumCohorts(), opt.NumBits, opt.NumCohorts)
			}
			shards[i] = s
			return nil
		})
	}
	return shards, g.Wait()
}
