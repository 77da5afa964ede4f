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
	"io"
	"path"
	"strconv"

	"github.com/google/rappor/rapporagg"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotCohorts draws, for every Bloom filter bit, the fraction of reports that
// set it, from the output of SumBits in CSV format.
type PlotCohorts struct {
	InputFile string
	// OutputFile is a .png, .svg or .pdf file, local or on GCS.
	OutputFile string
	// Cohorts restricts the plot to these cohorts. Empty means all cohorts.
	Cohorts []int
}

// Name implements Tool.
func (t *PlotCohorts) Name() string { return "plot" }

// Run implements Tool.
func (t *PlotCohorts) Run(ctx context.Context) error {
	var rows [][]int64
	err := readFile(ctx, t.InputFile, func(r io.Reader) error {
		var err error
		rows, err = rapporagg.ReadCSV(r)
		return err
	})
	if err != nil {
		return err
	}
	fractions, err := bitFractions(rows, t.Cohorts)
	if err != nil {
		return err
	}
	return drawPlot(ctx, fractions, t.OutputFile)
}

// bitFractions returns, for every bit, the number of reports setting it over
// the number of reports in the selected cohorts.
func bitFractions(rows [][]int64, cohorts []int) ([]float64, error) {
	if len(rows) == 0 || len(rows[0]) < 2 {
		return nil, fmt.Errorf("got no counts to plot")
	}
	if len(cohorts) == 0 {
		cohorts = make([]int, len(rows))
		for c := range cohorts {
			cohorts[c] = c
		}
	}
	numBits := len(rows[0]) - 1
	sums := make([]int64, numBits)
	var numReports int64
	for _, c := range cohorts {
		if c < 0 || c >= len(rows) {
			return nil, fmt.Errorf("cohort is %d, must be in [0, %d)", c, len(rows))
		}
		if len(rows[c]) != numBits+1 {
			return nil, fmt.Errorf("cohort %d has %d counts, want %d", c, len(rows[c]), numBits+1)
		}
		numReports += rows[c][0]
		for b := range sums {
			sums[b] += rows[c][b+1]
		}
	}
	fractions := make([]float64, numBits)
	if numReports == 0 {
		return fractions, nil
	}
	for b, s := range sums {
		fractions[b] = float64(s) / float64(numReports)
	}
	return fractions, nil
}

func drawPlot(ctx context.Context, fractions []float64, output string) error {
	p := plot.New()
	p.Title.Text = "Reports Per Bloom Filter Bit"
	p.X.Label.Text = "Bit"
	p.Y.Label.Text = "Fraction of reports with the bit set"
	p.Y.Min = 0
	p.Y.Max = 1

	bars, err := plotter.NewBarChart(plotter.Values(fractions), vg.Points(10))
	if err != nil {
		return fmt.Errorf("could not create bars from points %v: %v", plotter.Values(fractions), err)
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = plotutil.Color(2)
	p.Add(bars)

	names := make([]string, len(fractions))
	for b := range names {
		names[b] = strconv.Itoa(b)
	}
	p.NominalX(names...)

	format := path.Ext(output)
	if format == "" {
		return fmt.Errorf("output file %q has no extension to pick the image format", output)
	}
	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, format[1:])
	if err != nil {
		return fmt.Errorf("could not render plot: %v", err)
	}
	return writeFile(ctx, output, func(w io.Writer) error {
		_, err := wt.WriteTo(w)
		return err
	})
}
