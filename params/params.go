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

// Package params holds the RAPPOR encoding parameters and reads them from the
// params CSV file shared by the client simulation and the aggregation tools.
package params

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	log "github.com/golang/glog"
	"github.com/google/rappor/checks"
	"github.com/google/rappor/internal/fileio"
)

// Header is the exact header row of a params file.
var Header = []string{"k", "h", "m", "p", "q", "f"}

// Params is the RAPPOR encoding configuration. It is a value type: pass it by
// value and never mutate a copy that is already in use by an encoder or an
// aggregator.
type Params struct {
	// NumBits is the Bloom filter size k.
	NumBits int
	// NumHashes is the number of Bloom hash functions h.
	NumHashes int
	// NumCohorts is the number of cohorts m.
	NumCohorts int
	// ProbIrr0 is p, the probability that an IRR bit is 1 when the PRR bit is 0.
	ProbIrr0 float64
	// ProbIrr1 is q, the probability that an IRR bit is 1 when the PRR bit is 1.
	ProbIrr1 float64
	// ProbPrr is f, the probability that a PRR bit is replaced by a fair coin.
	ProbPrr float64
}

// Default returns the parameters used when no params file is given.
func Default() Params {
	return Params{
		NumBits:    16,
		NumHashes:  2,
		NumCohorts: 64,
		ProbIrr0:   0.50,
		ProbIrr1:   0.75,
		ProbPrr:    0.50,
	}
}

// ConfigError reports a malformed params source or invalid parameter values.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid RAPPOR params: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(format string, a ...interface{}) error {
	return &ConfigError{Err: fmt.Errorf(format, a...)}
}

// Validate returns a *ConfigError if the parameters can't be used by any
// encoder or aggregator.
func (p Params) Validate() error {
	for _, err := range []error{
		checks.CheckNumBits(p.NumBits, 0),
		checks.CheckNumHashes(p.NumHashes),
		checks.CheckNumCohorts(p.NumCohorts),
		checks.CheckProbability(p.ProbIrr0, "ProbIrr0 (p)"),
		checks.CheckProbability(p.ProbIrr1, "ProbIrr1 (q)"),
		checks.CheckProbability(p.ProbPrr, "ProbPrr (f)"),
	} {
		if err != nil {
			return &ConfigError{Err: err}
		}
	}
	if p.ProbIrr0 == p.ProbIrr1 {
		log.Warningf("ProbIrr0 and ProbIrr1 are both %f, reports will carry no signal", p.ProbIrr0)
	}
	return nil
}

// Load reads params from a CSV source. The source must contain the header
// "k,h,m,p,q,f" followed by exactly one row of numeric values. Any other shape
// is a *ConfigError.
func Load(r io.Reader) (Params, error) {
	c := csv.NewReader(r)
	c.FieldsPerRecord = -1
	records, err := c.ReadAll()
	if err != nil {
		return Params{}, configErrorf("couldn't read params csv, err = %v", err)
	}
	if len(records) == 0 {
		return Params{}, configErrorf("params csv is empty, expected header %v", Header)
	}
	if !slices.Equal(records[0], Header) {
		return Params{}, configErrorf("header %v is malformed, expected %v", records[0], Header)
	}
	if len(records) != 2 {
		return Params{}, configErrorf("params csv has %d rows, expected a header and exactly one row of values", len(records))
	}
	row := records[1]
	if len(row) != len(Header) {
		return Params{}, configErrorf("row %v has %d fields, expected %d", row, len(row), len(Header))
	}

	var p Params
	ints := []*int{&p.NumBits, &p.NumHashes, &p.NumCohorts}
	for i, dst := range ints {
		v, err := strconv.Atoi(row[i])
		if err != nil {
			return Params{}, configErrorf("couldn't read %s = %q as int, err = %v", Header[i], row[i], err)
		}
		*dst = v
	}
	floats := []*float64{&p.ProbIrr0, &p.ProbIrr1, &p.ProbPrr}
	for i, dst := range floats {
		col := len(ints) + i
		v, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			return Params{}, configErrorf("couldn't read %s = %q as float64, err = %v", Header[col], row[col], err)
		}
		*dst = v
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// LoadFile reads params from a local file or a GCS object.
func LoadFile(ctx context.Context, filename string) (Params, error) {
	f, err := fileio.Open(ctx, filename)
	if err != nil {
		return Params{}, configErrorf("couldn't open params file = %q, err = %v", filename, err)
	}
	defer f.Close()
	p, err := Load(f)
	if err != nil {
		return Params{}, fmt.Errorf("params file = %q: %w", filename, err)
	}
	return p, nil
}

// CSV writes p as a params file that Load accepts.
func (p Params) CSV(w io.Writer) error {
	c := csv.NewWriter(w)
	if err := c.Write(Header); err != nil {
		return err
	}
	row := []string{
		strconv.Itoa(p.NumBits),
		strconv.Itoa(p.NumHashes),
		strconv.Itoa(p.NumCohorts),
		strconv.FormatFloat(p.ProbIrr0, 'g', -1, 64),
		strconv.FormatFloat(p.ProbIrr1, 'g', -1, 64),
		strconv.FormatFloat(p.ProbPrr, 'g', -1, 64),
	}
	if err := c.Write(row); err != nil {
		return err
	}
	c.Flush()
	return c.Error()
}

// wireParams is the JSON form understood by the collection server.
type wireParams struct {
	NumBits    *int     `json:"numBits"`
	NumHashes  *int     `json:"numHashes"`
	NumCohorts *int     `json:"numCohorts"`
	ProbPrr    *float64 `json:"probPrr"`
	ProbIrr0   *float64 `json:"probIrr0"`
	ProbIrr1   *float64 `json:"probIrr1"`
}

// WireJSON serializes p with the field names used by the collection server.
func (p Params) WireJSON() ([]byte, error) {
	return json.Marshal(wireParams{
		NumBits:    &p.NumBits,
		NumHashes:  &p.NumHashes,
		NumCohorts: &p.NumCohorts,
		ProbPrr:    &p.ProbPrr,
		ProbIrr0:   &p.ProbIrr0,
		ProbIrr1:   &p.ProbIrr1,
	})
}

// ParseWireJSON is the inverse of WireJSON. Every field must be present.
func ParseWireJSON(data []byte) (Params, error) {
	var w wireParams
	if err := json.Unmarshal(data, &w); err != nil {
		return Params{}, configErrorf("couldn't parse params json, err = %v", err)
	}
	if w.NumBits == nil || w.NumHashes == nil || w.NumCohorts == nil ||
		w.ProbPrr == nil || w.ProbIrr0 == nil || w.ProbIrr1 == nil {
		return Params{}, &ConfigError{Err: errors.New("params json must set numBits, numHashes, numCohorts, probPrr, probIrr0 and probIrr1")}
	}
	p := Params{
		NumBits:    *w.NumBits,
		NumHashes:  *w.NumHashes,
		NumCohorts: *w.NumCohorts,
		ProbPrr:    *w.ProbPrr,
		ProbIrr0:   *w.ProbIrr0,
		ProbIrr1:   *w.ProbIrr1,
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
