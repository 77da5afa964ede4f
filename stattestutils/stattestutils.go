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

// Package stattestutils provides basic statistical utility functions.
//
// This package is not optimized for performance or speed and is only intended
// to be used in tests.
package stattestutils

import (
	"math"

	"github.com/grd/stat"
)

// Z-score such that a test comparing a sample mean against its expectation
// fails with probability about 10⁻⁵.
const meanZScore = 4.41717

// SampleMean returns the mean of a slice, calculated as the average over the
// values in the slice. The mean of an empty slice is 0.
func SampleMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(stat.Float64Slice(values))
}

// SampleVariance returns the variance of a slice, calculated as the sum of
// squares of the distance to the mean of each of the values, divided by the
// number of values.
func SampleVariance(values []float64) float64 {
	mean := SampleMean(values)
	var sumOfSquares float64 = 0.0
	for _, v := range values {
		sumOfSquares += math.Pow(v-mean, 2)
	}
	return sumOfSquares / math.Max(1, float64(len(values)))
}

// BernoulliTolerance returns how far the observed frequency of n independent
// Bernoulli(prob) trials may stray from prob before a test should fail.
func BernoulliTolerance(prob float64, n int) float64 {
	return meanZScore * math.Sqrt(prob*(1-prob)/math.Max(1, float64(n)))
}

// BitFrequencies returns, for each of the numBits low bits, the fraction of
// samples with that bit set.
func BitFrequencies(samples []uint64, numBits int) []float64 {
	freqs := make([]float64, numBits)
	for i := range freqs {
		bit := make([]float64, len(samples))
		for j, s := range samples {
			bit[j] = float64((s >> uint(i)) & 1)
		}
		freqs[i] = SampleMean(bit)
	}
	return freqs
}
