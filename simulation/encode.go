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

package simulation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	log "github.com/golang/glog"
	"github.com/google/rappor/checks"
	"github.com/google/rappor/encoder"
	"github.com/google/rappor/params"
	"github.com/google/rappor/rand"
	"github.com/google/uuid"
)

// Random modes understood by EncodeOptions.
const (
	SecureMode = "secure"
	FastMode   = "fast"
)

// EncodeOptions configures the simulated clients of EncodeClients and
// EncodeAssocClients.
type EncodeOptions struct {
	Params params.Params // Required.
	// RandomMode is SecureMode or FastMode. Defaults to FastMode.
	RandomMode string
	// Seed of the FastMode source. Zero draws a seed from crypto/rand.
	Seed uint64
	// RandomSecrets gives every client a random UUID secret. By default the
	// client id is the secret.
	RandomSecrets bool
}

// clients builds one encoder per report row, keyed by the client's secret.
type clients struct {
	opt     EncodeOptions
	source  rand.BitSource
	secrets map[string][]byte
}

func newClients(opt *EncodeOptions) (*clients, error) {
	if opt == nil {
		return nil, &params.ConfigError{Err: fmt.Errorf("no EncodeOptions")}
	}
	p := opt.Params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var (
		source rand.BitSource
		err    error
	)
	switch opt.RandomMode {
	case SecureMode:
		source, err = rand.NewSecure(p.ProbIrr0, p.ProbIrr1, p.NumBits)
	case FastMode, "":
		seed := opt.Seed
		if seed == 0 {
			if seed, err = rand.SecureSeed(); err != nil {
				return nil, err
			}
		}
		source, err = rand.NewFast(p.ProbIrr0, p.ProbIrr1, p.NumBits, seed)
	default:
		return nil, &params.ConfigError{Err: fmt.Errorf("unknown random mode %q, must be %q or %q", opt.RandomMode, SecureMode, FastMode)}
	}
	if err != nil {
		return nil, &params.ConfigError{Err: err}
	}
	return &clients{opt: *opt, source: source, secrets: make(map[string][]byte)}, nil
}

func (c *clients) secret(client string) []byte {
	if !c.opt.RandomSecrets {
		return []byte(client)
	}
	s, ok := c.secrets[client]
	if !ok {
		s = []byte(uuid.New().String())
		c.secrets[client] = s
	}
	return s
}

// encoder returns the encoder of client in the cohort given as a string.
func (c *clients) encoder(client, cohort string) (*encoder.Encoder, error) {
	n, err := strconv.Atoi(cohort)
	if err != nil {
		return nil, fmt.Errorf("couldn't read cohort = %q as int, err = %v", cohort, err)
	}
	if err := checks.CheckCohort(n, c.opt.Params.NumCohorts); err != nil {
		return nil, err
	}
	return encoder.New(c.opt.Params, uint32(n), c.secret(client), c.source)
}

func (c *clients) encode(e *encoder.Encoder, value string) (string, error) {
	irr, err := e.EncodeString(value)
	if err != nil {
		return "", err
	}
	return encoder.BitString(irr, c.opt.Params.NumBits), nil
}

// encodeRows runs encodeRow over every row of a CSV with the given header and
// writes the results after outHeader.
func encodeRows(r io.Reader, w io.Writer, header, outHeader []string, encodeRow func(record []string) ([]string, error)) error {
	in := csv.NewReader(r)
	in.FieldsPerRecord = len(header)
	out := csv.NewWriter(w)
	if err := out.Write(outHeader); err != nil {
		return err
	}
	for i := 0; ; i++ {
		record, err := in.Read()
		if err == io.EOF {
			if i == 0 {
				return fmt.Errorf("expected header %q, got empty input", header)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("couldn't read input csv, err = %v", err)
		}
		if i == 0 {
			if err := checkHeader(record, header...); err != nil {
				return err
			}
			continue
		}
		if i%10000 == 0 {
			log.Infof("Processed %d inputs", i)
		}
		row, err := encodeRow(record)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		if err := out.Write(row); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

// EncodeClients reads a "client,cohort,value" CSV and writes one report per
// row as a "user_id,cohort,irr" CSV.
func EncodeClients(r io.Reader, w io.Writer, opt *EncodeOptions) error {
	c, err := newClients(opt)
	if err != nil {
		return err
	}
	return encodeRows(r, w,
		[]string{"client", "cohort", "value"},
		[]string{"user_id", "cohort", "irr"},
		func(record []string) ([]string, error) {
			e, err := c.encoder(record[0], record[1])
			if err != nil {
				return nil, err
			}
			irr, err := c.encode(e, record[2])
			if err != nil {
				return nil, err
			}
			return []string{record[0], record[1], irr}, nil
		})
}

// EncodeAssocClients reads a "client,cohort,value1,value2" CSV and writes one
// report per row carrying both variables, as a "user_id,cohort,irr1,irr2" CSV.
// Both variables are encoded with the same parameters and client secret.
func EncodeAssocClients(r io.Reader, w io.Writer, opt *EncodeOptions) error {
	c, err := newClients(opt)
	if err != nil {
		return err
	}
	return encodeRows(r, w,
		[]string{"client", "cohort", "value1", "value2"},
		[]string{"user_id", "cohort", "irr1", "irr2"},
		func(record []string) ([]string, error) {
			e, err := c.encoder(record[0], record[1])
			if err != nil {
				return nil, err
			}
			irr1, err := c.encode(e, record[2])
			if err != nil {
				return nil, err
			}
			irr2, err := c.encode(e, record[3])
			if err != nil {
				return nil, err
			}
			return []string{record[0], record[1], irr1, irr2}, nil
		})
}
