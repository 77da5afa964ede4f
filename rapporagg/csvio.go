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
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	log "github.com/golang/glog"
	"github.com/google/rappor/internal/fileio"
)

// readRows calls ingest for every row of a report CSV after the header, which
// must have numFields fields. Any error aborts the stream and is returned with
// the row's line number.
func readRows(r io.Reader, numFields int, ingest func(fields []string) error) (int, error) {
	c := csv.NewReader(r)
	c.FieldsPerRecord = -1
	c.ReuseRecord = true
	numRows := 0
	for i := 0; ; i++ {
		record, err := c.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return numRows, &AggregationError{Line: parseErr.StartLine, Err: parseErr.Err}
			}
			return numRows, fmt.Errorf("couldn't read report csv, err = %v", err)
		}
		line, _ := c.FieldPos(0)
		if i == 0 {
			if len(record) != numFields {
				return 0, &AggregationError{Line: line, Err: fmt.Errorf("header %q has %d fields, expected %d", record, len(record), numFields)}
			}
			continue
		}
		if err := ingest(record); err != nil {
			var aggErr *AggregationError
			if errors.As(err, &aggErr) && aggErr.Line == 0 {
				aggErr.Line = line
			}
			return numRows, err
		}
		numRows++
		if numRows%100000 == 0 {
			log.Infof("Aggregated %d reports", numRows)
		}
	}
	return numRows, nil
}

// SplitLine returns the fields of a single report CSV line, parsed the way
// IngestCSV parses each row, or nil if the line is empty.
func SplitLine(line string) ([]string, error) {
	c := csv.NewReader(strings.NewReader(line))
	c.FieldsPerRecord = -1
	fields, err := c.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			err = parseErr.Err
		}
		return nil, aggregationErrorf("couldn't parse line %q, err = %v", line, err)
	}
	return fields, nil
}

// IngestCSV adds every report of a "user_id,cohort,irr" CSV stream to s. The
// first row is a header and is skipped. The first malformed row aborts the
// stream with an *AggregationError; rows before it stay counted.
func (s *SumBits) IngestCSV(r io.Reader) error {
	n, err := readRows(r, 3, func(fields []string) error {
		report, err := ParseReport(fields)
		if err != nil {
			return err
		}
		return s.IngestRow(report.Cohort, report.IRR)
	})
	if err != nil {
		return err
	}
	log.Infof("Aggregated %d single-variable reports into %d cohorts", n, s.numCohorts)
	return nil
}

// IngestCSV adds every report of a "user_id,cohort,irr1,irr2" CSV stream to
// s. The first row is a header and is skipped. The first malformed row aborts
// the stream with an *AggregationError.
func (s *SumBitsAssoc) IngestCSV(r io.Reader) error {
	n, err := readRows(r, 4, func(fields []string) error {
		report, err := ParseAssocReport(fields)
		if err != nil {
			return err
		}
		return s.IngestRow(report.Cohort, report.IRR1, report.IRR2)
	})
	if err != nil {
		return err
	}
	log.Infof("Aggregated %d two-variable reports into %d cohorts", n, s.numCohorts)
	return nil
}

// WriteCSV writes rows as CSV, one line per row.
func WriteCSV(w io.Writer, rows [][]int64) error {
	c := csv.NewWriter(w)
	record := make([]string, 0)
	for _, row := range rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, strconv.FormatInt(v, 10))
		}
		if err := c.Write(record); err != nil {
			return fmt.Errorf("couldn't write row, err = %v", err)
		}
	}
	c.Flush()
	return c.Error()
}

// ReadCSV reads rows written by WriteCSV.
func ReadCSV(r io.Reader) ([][]int64, error) {
	c := csv.NewReader(r)
	c.FieldsPerRecord = -1
	var rows [][]int64
	for {
		record, err := c.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("couldn't read counts csv, err = %v", err)
		}
		row := make([]int64, len(record))
		for i, field := range record {
			if row[i], err = strconv.ParseInt(field, 10, 64); err != nil {
				line, _ := c.FieldPos(i)
				return nil, fmt.Errorf("couldn't read count = %q on line %d as int64, err = %v", field, line, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sumsJSON is the JSON form of SumBits rows: the per-cohort report counts and
// all bit counts flattened in cohort-major order.
type sumsJSON struct {
	NumReports []int64 `json:"num_reports"`
	Sums       []int64 `json:"sums"`
}

// WriteJSON writes SumBits rows as a JSON object with the per-cohort report
// counts in "num_reports" and the flattened bit counts in "sums".
func WriteJSON(w io.Writer, rows [][]int64) error {
	obj := sumsJSON{NumReports: make([]int64, 0, len(rows)), Sums: make([]int64, 0)}
	for _, row := range rows {
		if len(row) == 0 {
			return errors.New("WriteJSON: got an empty row, want the report count first")
		}
		obj.NumReports = append(obj.NumReports, row[0])
		obj.Sums = append(obj.Sums, row[1:]...)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}

// SaveSnapshot writes the counts of s to filename as CBOR. filename may be a
// local path or a GCS object.
func (s *SumBits) SaveSnapshot(ctx context.Context, filename string) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	b, err := fileio.MarshalCBOR(snap)
	if err != nil {
		return fmt.Errorf("couldn't encode snapshot, err = %v", err)
	}
	return fileio.WriteBytes(ctx, b, filename)
}

// LoadSnapshot reads a SumBits written by SaveSnapshot.
func LoadSnapshot(ctx context.Context, filename string) (*SumBits, error) {
	b, err := fileio.ReadBytes(ctx, filename)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := fileio.UnmarshalCBOR(b, &snap); err != nil {
		return nil, fmt.Errorf("couldn't decode snapshot %q, err = %v", filename, err)
	}
	return FromSnapshot(&snap)
}
