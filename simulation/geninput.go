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
	"github.com/google/rappor/rand"
	exprand "golang.org/x/exp/rand"
)

const (
	minUniqueValues = 2
	minClients      = 10
)

// GenInputOptions configures GenerateInput.
type GenInputOptions struct {
	// Dist is one of Exponential, Gaussian or Uniform. Defaults to Exponential.
	Dist string
	// DistParam is passed to NewValueSampler.
	DistParam float64
	// NumUniqueValues is the number of distinct values "v1".."vN". Defaults
	// to 100.
	NumUniqueValues int
	// NumClients defaults to 100000.
	NumClients int
	// ValuesPerClient defaults to 1.
	ValuesPerClient int
	// NumLines switches to line mode: a bare value per line, NumLines lines
	// and no client column.
	NumLines int
	// Seed of the sampler. Zero draws a seed from crypto/rand.
	Seed uint64
}

func (opt *GenInputOptions) withDefaults() GenInputOptions {
	o := GenInputOptions{}
	if opt != nil {
		o = *opt
	}
	if o.Dist == "" {
		o.Dist = Exponential
	}
	if o.NumUniqueValues == 0 {
		o.NumUniqueValues = 100
	}
	if o.NumClients == 0 {
		o.NumClients = 100000
	}
	if o.ValuesPerClient == 0 {
		o.ValuesPerClient = 1
	}
	return o
}

// GenerateInput writes the true values of a synthetic population to w, as a
// "client,true_value" CSV where clients are numbered from 1, or as one value
// per line in line mode.
func GenerateInput(w io.Writer, opt *GenInputOptions) error {
	o := opt.withDefaults()
	if o.NumUniqueValues < minUniqueValues {
		return fmt.Errorf("NumUniqueValues is %d, must be at least %d", o.NumUniqueValues, minUniqueValues)
	}
	if o.NumClients < minClients {
		return fmt.Errorf("NumClients is %d, RAPPOR won't work with less than %d clients", o.NumClients, minClients)
	}
	if o.ValuesPerClient < 1 || o.NumLines < 0 {
		return fmt.Errorf("ValuesPerClient is %d and NumLines is %d, must be positive and non-negative", o.ValuesPerClient, o.NumLines)
	}
	seed := o.Seed
	if seed == 0 {
		var err error
		if seed, err = rand.SecureSeed(); err != nil {
			return err
		}
	}
	sampler, err := NewValueSampler(o.Dist, o.NumUniqueValues, o.DistParam, exprand.NewSource(seed))
	if err != nil {
		return err
	}

	c := csv.NewWriter(w)
	if o.NumLines > 0 {
		for i := 0; i < o.NumLines; i++ {
			if i%10000 == 0 && i > 0 {
				log.Infof("Generated %d rows", i)
			}
			if err := c.Write([]string{valueName(sampler.Sample())}); err != nil {
				return err
			}
		}
		c.Flush()
		return c.Error()
	}

	if err := c.Write([]string{"client", "true_value"}); err != nil {
		return err
	}
	for client := 1; client <= o.NumClients; client++ {
		if client%10000 == 0 {
			log.Infof("Generated %d clients", client)
		}
		id := strconv.Itoa(client)
		for j := 0; j < o.ValuesPerClient; j++ {
			if err := c.Write([]string{id, valueName(sampler.Sample())}); err != nil {
				return err
			}
		}
	}
	c.Flush()
	return c.Error()
}

func valueName(i int) string {
	return "v" + strconv.Itoa(i)
}

// AssignCohorts turns a "client,true_value" CSV into a "client,cohort,value"
// CSV, giving every client a cohort drawn uniformly from [0, numCohorts). All
// rows of a client share its cohort.
func AssignCohorts(r io.Reader, w io.Writer, numCohorts int, seed uint64) error {
	if err := checks.CheckNumCohorts(numCohorts); err != nil {
		return err
	}
	rng := exprand.New(exprand.NewSource(seed))
	cohorts := make(map[string]string)
	in := csv.NewReader(r)
	in.FieldsPerRecord = 2
	out := csv.NewWriter(w)
	for i := 0; ; i++ {
		record, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("couldn't read input csv, err = %v", err)
		}
		if i == 0 {
			if err := checkHeader(record, "client", "true_value"); err != nil {
				return err
			}
			if err := out.Write([]string{"client", "cohort", "value"}); err != nil {
				return err
			}
			continue
		}
		client := record[0]
		cohort, ok := cohorts[client]
		if !ok {
			cohort = strconv.Itoa(rng.Intn(numCohorts))
			cohorts[client] = cohort
		}
		if err := out.Write([]string{client, cohort, record[1]}); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func checkHeader(got []string, want ...string) error {
	if len(got) != len(want) {
		return fmt.Errorf("expected header %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("expected %s header, got %q", want[i], got[i])
		}
	}
	return nil
}
