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

// Package checks contains parameter checks shared by the RAPPOR encoder and
// aggregators.
package checks

import (
	"fmt"
	"math"
)

const (
	// MaxBloomHashes is the byte length of the MD5 digest used for Bloom
	// hashing. Each hash consumes one byte of the digest.
	MaxBloomHashes = 16
	// MaxPRRBits is the byte length of the HMAC-SHA256 digest used for the
	// permanent randomized response. Each bit consumes one byte of the digest.
	MaxPRRBits = 32
	// MaxWordBits is the widest bit value carried in a uint64.
	MaxWordBits = 64
)

func verifyName(defaultName string, nameSlice []string) (string, error) {
	var name string
	switch len(nameSlice) {
	case 0:
		name = defaultName
	case 1:
		name = nameSlice[0]
	default:
		return "", fmt.Errorf("there should be 0 or 1 'name' parameter, got %d", len(nameSlice))
	}
	return name, nil
}

// CheckProbability returns an error if prob is NaN or outside of [0, 1].
func CheckProbability(prob float64, name ...string) error {
	probName, err := verifyName("Probability", name)
	if err != nil {
		return err
	}
	if math.IsNaN(prob) {
		return fmt.Errorf("%s is %f, cannot be NaN", probName, prob)
	}
	if prob < 0 || prob > 1 {
		return fmt.Errorf("%s is %f, must be between 0 and 1 inclusive", probName, prob)
	}
	return nil
}

// CheckNumBits returns an error if numBits is nonpositive or greater than max.
// A nonpositive max means there is no upper bound.
func CheckNumBits(numBits, max int) error {
	if numBits < 1 {
		return fmt.Errorf("NumBits is %d, must be strictly positive", numBits)
	}
	if max > 0 && numBits > max {
		return fmt.Errorf("NumBits is %d, must be at most %d", numBits, max)
	}
	return nil
}

// CheckNumHashes returns an error if numHashes is nonpositive or exceeds the
// Bloom digest capacity.
func CheckNumHashes(numHashes int) error {
	if numHashes < 1 {
		return fmt.Errorf("NumHashes is %d, must be strictly positive", numHashes)
	}
	if numHashes > MaxBloomHashes {
		return fmt.Errorf("NumHashes is %d, must be at most %d", numHashes, MaxBloomHashes)
	}
	return nil
}

// CheckNumCohorts returns an error if numCohorts is nonpositive.
func CheckNumCohorts(numCohorts int) error {
	if numCohorts < 1 {
		return fmt.Errorf("NumCohorts is %d, must be strictly positive", numCohorts)
	}
	return nil
}

// CheckCohort returns an error if cohort is not in [0, numCohorts).
func CheckCohort(cohort, numCohorts int) error {
	if cohort < 0 || cohort >= numCohorts {
		return fmt.Errorf("Cohort is %d, must be in [0, %d)", cohort, numCohorts)
	}
	return nil
}
