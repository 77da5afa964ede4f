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

// Package rand provides the sources of fresh randomness used for the
// Instantaneous Randomized Response.
//
// Two implementations of BitSource are available. Secure draws every bit from
// crypto/rand and is the one clients should use. Fast draws from a seeded PCG
// generator and is meant for simulations that encode millions of reports.
package rand

import (
	"bufio"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	log "github.com/golang/glog"
	"github.com/google/rappor/checks"
	exprand "golang.org/x/exp/rand"
)

// BitSource draws the random masks of the Instantaneous Randomized Response.
// Every call returns a freshly drawn value of NumBits bits: bit i of PBits is
// 1 with probability p and bit i of QBits is 1 with probability q,
// independently of every other bit and every other call.
type BitSource interface {
	PBits() uint64
	QBits() uint64
}

func checkSourceParams(probP, probQ float64, numBits int) error {
	if err := checks.CheckProbability(probP, "ProbIrr0 (p)"); err != nil {
		return err
	}
	if err := checks.CheckProbability(probQ, "ProbIrr1 (q)"); err != nil {
		return err
	}
	return checks.CheckNumBits(numBits, checks.MaxWordBits)
}

// Secure is a BitSource backed by crypto/rand. It draws one uniform number per
// bit, so each bit is exactly Bernoulli(p) up to float64 precision.
//
// Secure is safe for concurrent use. Each instance owns its buffer, so
// instances never contend with each other.
type Secure struct {
	probP, probQ float64
	numBits      int

	mu  sync.Mutex
	buf io.Reader
}

// NewSecure returns a Secure source drawing numBits-bit values.
func NewSecure(probP, probQ float64, numBits int) (*Secure, error) {
	if err := checkSourceParams(probP, probQ, numBits); err != nil {
		return nil, fmt.Errorf("NewSecure: %v", err)
	}
	return &Secure{
		probP:   probP,
		probQ:   probQ,
		numBits: numBits,
		buf:     bufio.NewReaderSize(cryptorand.Reader, 4096),
	}, nil
}

// PBits returns a value whose bits are independently 1 with probability p.
func (s *Secure) PBits() uint64 {
	return s.bits(s.probP)
}

// QBits returns a value whose bits are independently 1 with probability q.
func (s *Secure) QBits() uint64 {
	return s.bits(s.probQ)
}

func (s *Secure) bits(prob float64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r uint64
	for i := 0; i < s.numBits; i++ {
		if s.uniform() < prob {
			r |= 1 << uint(i)
		}
	}
	return r
}

// uniform returns a float64 in [0, 1) built from 53 random bits. Must be
// called with s.mu held.
func (s *Secure) uniform() float64 {
	var b [8]uint8
	if _, err := io.ReadFull(s.buf, b[:]); err != nil {
		log.Fatalf("out of randomness, should never happen: %v", err)
	}
	return float64(binary.LittleEndian.Uint64(b[:])>>11) / (1 << 53)
}

// Fast is a BitSource backed by a seeded PCG generator from golang.org/x/exp/rand.
//
// Fast is NOT cryptographically secure: anyone who learns the seed can
// reproduce every IRR mask. It trades that for throughput and supports at most
// 64 bits. Each bit compares a 32-bit draw against floor(prob * 2³²), so
// probabilities are exact to 2⁻³², p = 0 always yields zeros and p = 1 always
// yields ones.
//
// Fast is not safe for concurrent use; give each encoder its own instance.
type Fast struct {
	pThreshold, qThreshold uint64
	numBits                int
	rng                    *exprand.Rand
}

// NewFast returns a Fast source drawing numBits-bit values from a generator
// seeded with seed.
func NewFast(probP, probQ float64, numBits int, seed uint64) (*Fast, error) {
	if err := checkSourceParams(probP, probQ, numBits); err != nil {
		return nil, fmt.Errorf("NewFast: %v", err)
	}
	return &Fast{
		pThreshold: threshold32(probP),
		qThreshold: threshold32(probQ),
		numBits:    numBits,
		rng:        exprand.New(exprand.NewSource(seed)),
	}, nil
}

// NewFastFromSecureSeed is like NewFast but seeds the generator from
// crypto/rand.
func NewFastFromSecureSeed(probP, probQ float64, numBits int) (*Fast, error) {
	seed, err := SecureSeed()
	if err != nil {
		return nil, err
	}
	return NewFast(probP, probQ, numBits, seed)
}

// SecureSeed returns a seed for a PCG generator read from crypto/rand.
func SecureSeed() (uint64, error) {
	var b [8]uint8
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("couldn't read seed: %v", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func threshold32(prob float64) uint64 {
	return uint64(math.Floor(prob * (1 << 32)))
}

// PBits returns a value whose bits are independently 1 with probability p.
func (f *Fast) PBits() uint64 {
	return f.bits(f.pThreshold)
}

// QBits returns a value whose bits are independently 1 with probability q.
func (f *Fast) QBits() uint64 {
	return f.bits(f.qThreshold)
}

// bits consumes one 64-bit draw per two output bits.
func (f *Fast) bits(threshold uint64) uint64 {
	var r uint64
	for i := 0; i < f.numBits; i += 2 {
		word := f.rng.Uint64()
		if word&math.MaxUint32 < threshold {
			r |= 1 << uint(i)
		}
		if i+1 < f.numBits && word>>32 < threshold {
			r |= 1 << uint(i+1)
		}
	}
	return r
}
