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

// Package tools implements the commands of the rappor binary: aggregating
// report files, mapping candidate strings to Bloom filter bits, simulating
// clients and plotting counts.
package tools

import (
	"context"
	"fmt"
	"io"

	log "github.com/golang/glog"
	"github.com/google/rappor/internal/fileio"
	"github.com/google/rappor/params"
	"github.com/google/rappor/rapporagg"
)

// Output formats of the count tools.
const (
	CSVFormat  = "csv"
	JSONFormat = "json"
)

// Tool is a command of the rappor binary.
type Tool interface {
	// Name is the value of the --tool flag selecting the tool.
	Name() string
	Run(ctx context.Context) error
}

// Run runs t and logs how it went.
func Run(ctx context.Context, t Tool) error {
	log.Infof("Running tool %s", t.Name())
	if err := t.Run(ctx); err != nil {
		return fmt.Errorf("%s: %v", t.Name(), err)
	}
	log.Infof("Successfully finished running %s", t.Name())
	return nil
}

func loadParams(ctx context.Context, filename string) (params.Params, error) {
	if filename == "" {
		return params.Params{}, &params.ConfigError{Err: fmt.Errorf("no params file was chosen")}
	}
	return params.LoadFile(ctx, filename)
}

// readFile calls read on the content of a local file or GCS object.
func readFile(ctx context.Context, filename string, read func(r io.Reader) error) error {
	r, err := fileio.Open(ctx, filename)
	if err != nil {
		return fmt.Errorf("couldn't open the file = %q, err = %v", filename, err)
	}
	defer r.Close()
	if err := read(r); err != nil {
		return fmt.Errorf("couldn't process the file = %q, err = %w", filename, err)
	}
	return nil
}

// writeFile calls write to fill a local file or GCS object.
func writeFile(ctx context.Context, filename string, write func(w io.Writer) error) error {
	w, err := fileio.Create(ctx, filename)
	if err != nil {
		return fmt.Errorf("couldn't create the file = %q, err = %v", filename, err)
	}
	if err := write(w); err != nil {
		return fmt.Errorf("couldn't write to the file = %q, err = %v", filename, combineErrors(err, w.Close()))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("couldn't close the file = %q, err = %v", filename, err)
	}
	log.Infof("Wrote %s", filename)
	return nil
}

func writeRows(ctx context.Context, rows [][]int64, filename, format string) error {
	return writeFile(ctx, filename, func(w io.Writer) error {
		switch format {
		case CSVFormat, "":
			return rapporagg.WriteCSV(w, rows)
		case JSONFormat:
			return rapporagg.WriteJSON(w, rows)
		default:
			return fmt.Errorf("unknown output format %q, must be %q or %q", format, CSVFormat, JSONFormat)
		}
	})
}

func checkFormat(format string) error {
	switch format {
	case CSVFormat, JSONFormat, "":
		return nil
	}
	return fmt.Errorf("unknown output format %q, must be %q or %q", format, CSVFormat, JSONFormat)
}

func combineErrors(errors ...error) string {
	var nonNilErrors []error
	for _, err := range errors {
		if err != nil {
			nonNilErrors = append(nonNilErrors, err)
		}
	}
	return fmt.Sprintf("%+v", nonNilErrors)
}
