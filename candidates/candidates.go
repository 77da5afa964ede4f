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

// Package candidates writes the candidate map consumed by the decoder.
//
// Each map row holds a candidate string followed by, for every cohort in
// order, the Bloom bits the candidate sets. Bits are numbered from 1 and
// offset by cohort*NumBits, so the columns of cohort c cover
// [c*NumBits+1, (c+1)*NumBits].
package candidates

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	log "github.com/golang/glog"
	"github.com/google/rappor/bloom"
	"github.com/google/rappor/params"
)

// Row returns the map row of word.
func Row(word string, p params.Params) ([]string, error) {
	row := make([]string, 0, 1+p.NumCohorts*p.NumHashes)
	row = append(row, word)
	for cohort := 0; cohort < p.NumCohorts; cohort++ {
		positions, err := bloom.Positions([]byte(word), uint32(cohort), p.NumHashes, p.NumBits)
		if err != nil {
			return nil, err
		}
		for _, pos := range positions {
			row = append(row, strconv.Itoa(cohort*p.NumBits+pos+1))
		}
	}
	return row, nil
}

// Map reads one candidate per line from r and writes its map row to w. Lines
// are trimmed and blank lines are skipped.
func Map(r io.Reader, w io.Writer, p params.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	scanner := bufio.NewScanner(r)
	out := csv.NewWriter(w)
	numCandidates := 0
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" {
			continue
		}
		row, err := Row(word, p)
		if err != nil {
			return fmt.Errorf("couldn't hash candidate %q, err = %w", word, err)
		}
		if err := out.Write(row); err != nil {
			return fmt.Errorf("couldn't write map row for candidate %q, err = %v", word, err)
		}
		numCandidates++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("couldn't read candidates, err = %v", err)
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("couldn't write map file, err = %v", err)
	}
	log.Infof("Hashed %d candidates into %d cohorts", numCandidates, p.NumCohorts)
	return nil
}
