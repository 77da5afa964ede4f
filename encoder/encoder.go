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

// Package encoder turns a client's value into a RAPPOR report.
//
// Encoding has three steps. The value is hashed into a Bloom filter for the
// client's cohort. The Bloom filter is then passed through the Permanent
// Randomized Response (PRR), a deterministic function of the client secret and
// the value. Finally, the PRR is passed through the Instantaneous Randomized
// Response (IRR) with fresh randomness. Only the IRR leaves this package: the
// Bloom filter and the PRR identify the value and must never be returned,
// logged or persisted.
package encoder

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/rappor/bloom"
	"github.com/google/rappor/checks"
	"github.com/google/rappor/params"
	"github.com/google/rappor/prr"
	"github.com/google/rappor/rand"
)

// Encoder encodes the values of one client for one variable.
//
// An Encoder holds no mutable state apart from its BitSource, so it is safe
// for concurrent use exactly when its BitSource is.
type Encoder struct {
	params params.Params
	cohort uint32
	secret []byte
	source rand.BitSource
}

// New returns an Encoder for the client with the given cohort and secret.
// All configuration problems are reported here rather than per report.
func New(p params.Params, cohort uint32, secret []byte, source rand.BitSource) (*Encoder, error) {
	if err := checks.CheckNumHashes(p.NumHashes); err != nil {
		return nil, &bloom.HashingError{Err: err}
	}
	if err := checks.CheckNumBits(p.NumBits, checks.MaxPRRBits); err != nil {
		return nil, &prr.EncodingError{Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checks.CheckCohort(int(cohort), p.NumCohorts); err != nil {
		return nil, &params.ConfigError{Err: err}
	}
	if source == nil {
		return nil, &params.ConfigError{Err: fmt.Errorf("encoder needs a BitSource, got nil")}
	}
	return &Encoder{
		params: p,
		cohort: cohort,
		// Copied so that later changes to the caller's slice can't alter the PRR.
		secret: append([]byte(nil), secret...),
		source: source,
	}, nil
}

// Encode returns the IRR of value.
func (e *Encoder) Encode(value []byte) (uint64, error) {
	bits, err := bloom.Bits(value, e.cohort, e.params.NumHashes, e.params.NumBits)
	if err != nil {
		return 0, err
	}
	return e.encode(bits, value)
}

// EncodeString is Encode for string values.
func (e *Encoder) EncodeString(value string) (uint64, error) {
	return e.Encode([]byte(value))
}

// EncodeBits returns the IRR of caller-supplied bits, skipping Bloom hashing.
// It serves boolean and other non-string reports. The PRR masks are keyed on
// the big-endian 4-byte encoding of bits.
func (e *Encoder) EncodeBits(bits uint64) (uint64, error) {
	if bits>>uint(e.params.NumBits) != 0 {
		return 0, &prr.EncodingError{Err: fmt.Errorf("bits %#x don't fit in NumBits = %d", bits, e.params.NumBits)}
	}
	var msg [4]byte
	binary.BigEndian.PutUint32(msg[:], uint32(bits))
	return e.encode(bits, msg[:])
}

func (e *Encoder) encode(bits uint64, prrKey []byte) (uint64, error) {
	uniform, fMask, err := prr.Masks(e.secret, prrKey, e.params.ProbPrr, e.params.NumBits)
	if err != nil {
		return 0, err
	}
	permanent := prr.Apply(bits, uniform, fMask)

	pBits := e.source.PBits()
	qBits := e.source.QBits()
	return (pBits &^ permanent) | (qBits & permanent), nil
}

// BitString renders the low numBits bits of v most significant bit first, the
// text form aggregators read: character t holds bit numBits-t-1.
func BitString(v uint64, numBits int) string {
	var b strings.Builder
	b.Grow(numBits)
	for i := numBits - 1; i >= 0; i-- {
		if v&(1<<uint(i)) != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
