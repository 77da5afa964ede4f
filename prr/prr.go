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

// Package prr computes the Permanent Randomized Response masks.
//
// The masks are a pure function of a client secret and the reported value, so
// the same client always produces the same PRR for the same value. This keeps
// repeated reports consistent and bounds what an observer can learn by
// averaging them. The PRR itself must never be transmitted, logged or
// persisted.
package prr

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"math"

	"github.com/google/rappor/checks"
)

// EncodingError reports a bit width or probability the PRR digest can't serve.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return "rappor encoding: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Masks derives the uniform and f masks for value from
// HMAC-SHA256(secret, value). Digest byte i drives bit i: its lowest bit is the
// uniform coin, and its upper 7 bits, read as an integer in [0, 128), set the f
// mask bit when below floor(probPrr*128).
//
// numBits can be at most 32, the digest length.
func Masks(secret, value []byte, probPrr float64, numBits int) (uniform, fMask uint64, err error) {
	if err := checks.CheckNumBits(numBits, checks.MaxPRRBits); err != nil {
		return 0, 0, &EncodingError{Err: err}
	}
	if err := checks.CheckProbability(probPrr, "ProbPrr (f)"); err != nil {
		return 0, 0, &EncodingError{Err: err}
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(value)
	digest := mac.Sum(nil)
	if len(digest) < numBits {
		return 0, 0, &EncodingError{Err: fmt.Errorf("digest has %d bytes, need %d", len(digest), numBits)}
	}

	threshold := byte(math.Floor(probPrr * 128))
	for i := 0; i < numBits; i++ {
		b := digest[i]
		uniform |= uint64(b&0x01) << uint(i)
		if b>>1 < threshold {
			fMask |= 1 << uint(i)
		}
	}
	return uniform, fMask, nil
}

// Apply returns the PRR of bloom: bits outside fMask keep their Bloom value,
// bits inside fMask take the uniform coin.
func Apply(bloom, uniform, fMask uint64) uint64 {
	return (bloom &^ fMask) | (uniform & fMask)
}
