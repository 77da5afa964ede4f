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

// Package rapporbeam aggregates RAPPOR report files with Apache Beam.
//
// The pipelines produce the same rows as the rapporagg aggregators, so a
// report file too large for a single process can be summed on any Beam runner
// and fed to the same decoder.
package rapporbeam

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/io/textio"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/register"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/runners/direct"
	log "github.com/golang/glog"
	"github.com/google/rappor/params"
	"github.com/google/rappor/rapporagg"

	// The following imports are required for accessing local files and GCS
	// objects.
	_ "github.com/apache/beam/sdks/v2/go/pkg/beam/io/filesystem/gcs"
	_ "github.com/apache/beam/sdks/v2/go/pkg/beam/io/filesystem/local"
)

func init() {
	register.DoFn2x1[string, func(rapporagg.Report), error](&parseReportFn{})
	register.Emitter1[rapporagg.Report]()
	register.DoFn2x1[string, func(rapporagg.AssocReport), error](&parseAssocReportFn{})
	register.Emitter1[rapporagg.AssocReport]()

	register.Combiner3[sumBitsAccum, rapporagg.Report, string](&sumBitsFn{})
	register.Combiner3[sumBitsAssocAccum, rapporagg.AssocReport, AssocCSV](&sumBitsAssocFn{})

	register.DoFn3x1[[]byte, func(*string) bool, func(string), error](&sumBitsOrEmptyFn{})
	register.Iter1[string]()
	register.Emitter1[string]()
	register.DoFn3x1[[]byte, func(*AssocCSV) bool, func(AssocCSV), error](&sumBitsAssocOrEmptyFn{})
	register.Iter1[AssocCSV]()
	register.Emitter1[AssocCSV]()

	register.Function1x1[AssocCSV, string](jointCSVFn)
	register.Function1x1[AssocCSV, string](marginal1CSVFn)
	register.Function1x1[AssocCSV, string](marginal2CSVFn)
}

// AssocCSV holds the three CSV outputs of SumBitsAssoc.
type AssocCSV struct {
	Joint     string
	Marginal1 string
	Marginal2 string
}

// SumBits aggregates the lines of a "user_id,cohort,irr" report CSV. The
// returned PCollection holds a single string: the CSV rows of every cohort in
// cohort order, as written by rapporagg.WriteCSV without the final newline.
// Cohorts without reports get all-zero rows, also when lines hold no reports
// at all.
//
// Header lines are dropped. A malformed line fails the pipeline.
func SumBits(s beam.Scope, lines beam.PCollection, p params.Params) beam.PCollection {
	s = s.Scope("rapporbeam.SumBits")
	if err := p.Validate(); err != nil {
		log.Exitf("rapporbeam.SumBits: %v", err)
	}
	reports := ParseReports(s, lines, p)
	combined := beam.Combine(s, &sumBitsFn{NumBits: p.NumBits, NumCohorts: p.NumCohorts}, reports)
	return beam.ParDo(s, &sumBitsOrEmptyFn{NumBits: p.NumBits, NumCohorts: p.NumCohorts}, beam.Impulse(s), beam.SideInput{Input: combined})
}

// ParseReports turns the lines of a "user_id,cohort,irr" report CSV into a
// PCollection of rapporagg.Report, checked against p. Header and blank lines
// are dropped. A malformed line fails the pipeline.
func ParseReports(s beam.Scope, lines beam.PCollection, p params.Params) beam.PCollection {
	s = s.Scope("rapporbeam.ParseReports")
	return beam.ParDo(s, &parseReportFn{NumBits: p.NumBits, NumCohorts: p.NumCohorts}, lines)
}

// ParseAssocReports turns the lines of a "user_id,cohort,irr1,irr2" report
// CSV into a PCollection of rapporagg.AssocReport.
func ParseAssocReports(s beam.Scope, lines beam.PCollection, opt *rapporagg.SumBitsAssocOptions) beam.PCollection {
	s = s.Scope("rapporbeam.ParseAssocReports")
	return beam.ParDo(s, &parseAssocReportFn{NumBits1: opt.NumBits1, NumBits2: opt.NumBits2, NumCohorts: opt.NumCohorts}, lines)
}

// SumBitsAssoc aggregates the lines of a "user_id,cohort,irr1,irr2" report
// CSV where the first variable is encoded with p1 and the second with p2. Each
// returned PCollection holds a single CSV string, laid out like the matrices
// of rapporagg.AssocResult, with all-zero rows for cohorts without reports.
func SumBitsAssoc(s beam.Scope, lines beam.PCollection, p1, p2 params.Params) (joint, marginal1, marginal2 beam.PCollection) {
	s = s.Scope("rapporbeam.SumBitsAssoc")
	for _, p := range []params.Params{p1, p2} {
		if err := p.Validate(); err != nil {
			log.Exitf("rapporbeam.SumBitsAssoc: %v", err)
		}
	}
	opt, err := rapporagg.SumBitsAssocOptionsFromParams(p1, p2)
	if err != nil {
		log.Exitf("rapporbeam.SumBitsAssoc: %v", err)
	}
	reports := ParseAssocReports(s, lines, opt)
	combineFn := &sumBitsAssocFn{NumBits1: opt.NumBits1, NumBits2: opt.NumBits2, NumCohorts: opt.NumCohorts}
	combined := beam.Combine(s, combineFn, reports)
	combined = beam.ParDo(s, &sumBitsAssocOrEmptyFn{CombineFn: *combineFn}, beam.Impulse(s), beam.SideInput{Input: combined})
	return beam.ParDo(s, jointCSVFn, combined),
		beam.ParDo(s, marginal1CSVFn, combined),
		beam.ParDo(s, marginal2CSVFn, combined)
}

// RunSumBits reads reports from input, aggregates them with the direct runner
// and writes the rows to output. Both paths may be local files or GCS objects.
func RunSumBits(ctx context.Context, input, output string, p params.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	pipeline := beam.NewPipeline()
	s := pipeline.Root()
	lines := textio.Read(s, input)
	textio.Write(s, output, SumBits(s, lines, p))
	if _, err := direct.Execute(ctx, pipeline); err != nil {
		return fmt.Errorf("execution of pipeline failed: %v", err)
	}
	return nil
}

// RunSumBitsAssoc is RunSumBits for reports of two variables. It writes the
// joint rows and the marginal rows of each variable to separate files.
func RunSumBitsAssoc(ctx context.Context, input, jointOutput, marginal1Output, marginal2Output string, p1, p2 params.Params) error {
	for _, p := range []params.Params{p1, p2} {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if _, err := rapporagg.SumBitsAssocOptionsFromParams(p1, p2); err != nil {
		return err
	}
	pipeline := beam.NewPipeline()
	s := pipeline.Root()
	lines := textio.Read(s, input)
	joint, marginal1, marginal2 := SumBitsAssoc(s, lines, p1, p2)
	textio.Write(s, jointOutput, joint)
	textio.Write(s, marginal1Output, marginal1)
	textio.Write(s, marginal2Output, marginal2)
	if _, err := direct.Execute(ctx, pipeline); err != nil {
		return fmt.Errorf("execution of pipeline failed: %v", err)
	}
	return nil
}

// parseReportFn parses and validates single-variable report lines.
type parseReportFn struct {
	NumBits    int
	NumCohorts int

	checker *rapporagg.SumBits
}

func (fn *parseReportFn) Setup() error {
	var err error
	fn.checker, err = rapporagg.NewSumBits(&rapporagg.SumBitsOptions{NumBits: fn.NumBits, NumCohorts: fn.NumCohorts})
	return err
}

func (fn *parseReportFn) ProcessElement(line string, emit func(rapporagg.Report)) error {
	fields, err := rapporagg.SplitLine(line)
	if err != nil {
		return err
	}
	if fields == nil || (len(fields) == 3 && rapporagg.IsHeader(fields)) {
		return nil
	}
	r, err := rapporagg.ParseReport(fields)
	if err != nil {
		return err
	}
	if err := fn.checker.CheckReport(r.Cohort, r.IRR); err != nil {
		return err
	}
	emit(r)
	return nil
}

// parseAssocReportFn parses and validates two-variable report lines.
type parseAssocReportFn struct {
	NumBits1   int
	NumBits2   int
	NumCohorts int

	checker *rapporagg.SumBitsAssoc
}

func (fn *parseAssocReportFn) Setup() error {
	var err error
	fn.checker, err = rapporagg.NewSumBitsAssoc(&rapporagg.SumBitsAssocOptions{NumBits1: fn.NumBits1, NumBits2: fn.NumBits2, NumCohorts: fn.NumCohorts})
	return err
}

func (fn *parseAssocReportFn) ProcessElement(line string, emit func(rapporagg.AssocReport)) error {
	fields, err := rapporagg.SplitLine(line)
	if err != nil {
		return err
	}
	if fields == nil || (len(fields) == 4 && rapporagg.IsHeader(fields)) {
		return nil
	}
	r, err := rapporagg.ParseAssocReport(fields)
	if err != nil {
		return err
	}
	if err := fn.checker.CheckReport(r.Cohort, r.IRR1, r.IRR2); err != nil {
		return err
	}
	emit(r)
	return nil
}

type sumBitsAccum struct {
	SB *rapporagg.SumBits
}

// sumBitsFn is a CombineFn summing single-variable reports.
type sumBitsFn struct {
	NumBits    int
	NumCohorts int
}

func (fn *sumBitsFn) CreateAccumulator() (sumBitsAccum, error) {
	sb, err := rapporagg.NewSumBits(&rapporagg.SumBitsOptions{NumBits: fn.NumBits, NumCohorts: fn.NumCohorts})
	return sumBitsAccum{SB: sb}, err
}

func (fn *sumBitsFn) AddInput(a sumBitsAccum, r rapporagg.Report) (sumBitsAccum, error) {
	return a, a.SB.IngestRow(r.Cohort, r.IRR)
}

func (fn *sumBitsFn) MergeAccumulators(a, b sumBitsAccum) (sumBitsAccum, error) {
	return a, a.SB.Merge(b.SB)
}

func (fn *sumBitsFn) ExtractOutput(a sumBitsAccum) (string, error) {
	rows, err := a.SB.Result()
	if err != nil {
		return "", err
	}
	return formatCSV(rows)
}

// sumBitsOrEmptyFn emits the output of sumBitsFn read from a side input.
// beam.Combine emits nothing for an empty PCollection, in which case the rows
// of an empty accumulator are emitted instead.
type sumBitsOrEmptyFn struct {
	NumBits    int
	NumCohorts int
}

func (fn *sumBitsOrEmptyFn) ProcessElement(_ []byte, combinedIter func(*string) bool, emit func(string)) error {
	var rows string
	if combinedIter(&rows) {
		emit(rows)
		return nil
	}
	combineFn := &sumBitsFn{NumBits: fn.NumBits, NumCohorts: fn.NumCohorts}
	a, err := combineFn.CreateAccumulator()
	if err != nil {
		return err
	}
	if rows, err = combineFn.ExtractOutput(a); err != nil {
		return err
	}
	emit(rows)
	return nil
}

type sumBitsAssocAccum struct {
	SBA *rapporagg.SumBitsAssoc
}

// sumBitsAssocFn is a CombineFn summing two-variable reports.
type sumBitsAssocFn struct {
	NumBits1   int
	NumBits2   int
	NumCohorts int
}

func (fn *sumBitsAssocFn) CreateAccumulator() (sumBitsAssocAccum, error) {
	sba, err := rapporagg.NewSumBitsAssoc(&rapporagg.SumBitsAssocOptions{NumBits1: fn.NumBits1, NumBits2: fn.NumBits2, NumCohorts: fn.NumCohorts})
	return sumBitsAssocAccum{SBA: sba}, err
}

func (fn *sumBitsAssocFn) AddInput(a sumBitsAssocAccum, r rapporagg.AssocReport) (sumBitsAssocAccum, error) {
	return a, a.SBA.IngestRow(r.Cohort, r.IRR1, r.IRR2)
}

func (fn *sumBitsAssocFn) MergeAccumulators(a, b sumBitsAssocAccum) (sumBitsAssocAccum, error) {
	return a, a.SBA.Merge(b.SBA)
}

func (fn *sumBitsAssocFn) ExtractOutput(a sumBitsAssocAccum) (AssocCSV, error) {
	res, err := a.SBA.Result()
	if err != nil {
		return AssocCSV{}, err
	}
	var out AssocCSV
	for _, m := range []struct {
		rows [][]int64
		dst  *string
	}{
		{res.Joint, &out.Joint},
		{res.Marginal1, &out.Marginal1},
		{res.Marginal2, &out.Marginal2},
	} {
		if *m.dst, err = formatCSV(m.rows); err != nil {
			return AssocCSV{}, err
		}
	}
	return out, nil
}

// sumBitsAssocOrEmptyFn is sumBitsOrEmptyFn for the output of sumBitsAssocFn.
type sumBitsAssocOrEmptyFn struct {
	CombineFn sumBitsAssocFn
}

func (fn *sumBitsAssocOrEmptyFn) ProcessElement(_ []byte, combinedIter func(*AssocCSV) bool, emit func(AssocCSV)) error {
	var out AssocCSV
	if combinedIter(&out) {
		emit(out)
		return nil
	}
	a, err := fn.CombineFn.CreateAccumulator()
	if err != nil {
		return err
	}
	if out, err = fn.CombineFn.ExtractOutput(a); err != nil {
		return err
	}
	emit(out)
	return nil
}

// formatCSV renders rows as CSV without the final newline, which textio.Write
// adds back.
func formatCSV(rows [][]int64) (string, error) {
	var buf bytes.Buffer
	if err := rapporagg.WriteCSV(&buf, rows); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func jointCSVFn(a AssocCSV) string     { return a.Joint }
func marginal1CSVFn(a AssocCSV) string { return a.Marginal1 }
func marginal2CSVFn(a AssocCSV) string { return a.Marginal2 }
