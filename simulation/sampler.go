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

// Package simulation generates synthetic client populations and encodes them
// with RAPPOR, for testing the aggregators and the decoder end to end.
package simulation

import (
	"fmt"
	"math"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Distributions understood by NewValueSampler.
const (
	Exponential = "exp"
	Gaussian    = "gauss"
	Uniform     = "unif"
)

// ValueSampler draws the index of a true value in [1, NumUniqueValues].
type ValueSampler interface {
	Sample() int
}

// NewValueSampler returns a sampler over numUniqueValues values following
// dist. distParam is the standard deviation for Gaussian and the rate for
// Exponential; 0 picks numUniqueValues/6 and numUniqueValues/5 respectively.
// It is ignored for Uniform.
func NewValueSampler(dist string, numUniqueValues int, distParam float64, src exprand.Source) (ValueSampler, error) {
	if numUniqueValues < 2 {
		return nil, fmt.Errorf("numUniqueValues is %d, must be at least 2", numUniqueValues)
	}
	if distParam < 0 || math.IsNaN(distParam) || math.IsInf(distParam, 0) {
		return nil, fmt.Errorf("distParam is %f, must be finite and non-negative", distParam)
	}
	n := float64(numUniqueValues)
	switch dist {
	case Uniform:
		return &uniformSampler{n: numUniqueValues, d: distuv.Uniform{Min: 1, Max: n + 1, Src: src}}, nil
	case Gaussian:
		sigma := distParam
		if sigma == 0 {
			sigma = n / 6
		}
		return &gaussSampler{n: numUniqueValues, d: distuv.Normal{Mu: (n + 1) / 2, Sigma: sigma, Src: src}}, nil
	case Exponential:
		rate := distParam
		if rate == 0 {
			rate = n / 5
		}
		return &expSampler{n: numUniqueValues, d: distuv.Exponential{Rate: rate, Src: src}}, nil
	default:
		return nil, fmt.Errorf("unknown distribution %q, must be one of %q, %q, %q", dist, Exponential, Gaussian, Uniform)
	}
}

type uniformSampler struct {
	n int
	d distuv.Uniform
}

func (s *uniformSampler) Sample() int {
	v := int(s.d.Rand())
	if v > s.n {
		v = s.n
	}
	return v
}

// gaussSampler rounds draws of a normal distribution centered on the middle
// value and rejects those outside [1, n].
type gaussSampler struct {
	n int
	d distuv.Normal
}

func (s *gaussSampler) Sample() int {
	for {
		v := math.Round(s.d.Rand())
		if v >= 1 && v <= float64(s.n) {
			return int(v)
		}
	}
}

// expSampler truncates an exponential distribution to [0, 1) by rejection
// and scales it to [1, n].
type expSampler struct {
	n int
	d distuv.Exponential
}

func (s *expSampler) Sample() int {
	for {
		x := s.d.Rand()
		if x < 1 {
			return int(x*float64(s.n)) + 1
		}
	}
}
