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

// Package bloom maps a reported value to the Bloom filter bits that encode it
// for a given cohort.
//
// The hash is MD5 over the big-endian cohort followed by the value. MD5 is used
// for its speed and distribution only: the Bloom step is not the privacy
// boundary, the randomized responses applied afterwards are.
package bloom

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/google/rappor/checks"
)

// HashingError reports a hash configuration the digest can't serve.
type HashingError struct {
	Err error
}

func (e *HashingError) Error() string {
	return "bloom hashing: " + e.Err.Error()
}

func (e *HashingError) Unwrap() error { return e.Err }

// Positions returns the numHashes bit positions, each in [0, numBits), that
// value sets in the Bloom filter of cohort. Positions are not deduplicated:
// two hashes may land on the same bit.
func Positions(value []byte, cohort uint32, numHashes, numBits int) ([]int, error) {
	if err := checks.CheckNumHashes(numHashes); err != nil {
		return nil, &HashingError{Err: err}
	}
	if err := checks.CheckNumBits(numBits, 0); err != nil {
		return nil, &HashingError{Err: err}
	}

	input := make([]byte, 4, 4+len(value))
	binary.BigEndian.PutUint32(input, cohort)
	input = append(input, value...)
	digest := md5.Sum(input)

	positions := make([]int, numHashes)
	for i := range positions {
		positions[i] = int(digest[i]) % numBits
	}
	return positions, nil
}

// Bits returns the Bloom filter of value in cohort as a bit set, with position
// i stored in bit i. numBits can be at most 64.
func Bits(value []byte, cohort uint32, numHashes, numBits int) (uint64, error) {
	if numBits > checks.MaxWordBits {
		return 0, &HashingError{Err: fmt.Errorf("NumBits is %d, must be at most %d to fit in a word", numBits, checks.MaxWordBits)}
	}
	positions, err := Positions(value, cohort, numHashes, numBits)
	if err != nil {
		return 0, err
	}
	var bits uint64
	for _, pos := range positions {
		bits |= 1 << uint(pos)
	}
	return bits, nil
}
