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

package rapporbeam

import (
	"bytes"
	"encoding/gob"
	"reflect"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
)

// Coders for serializing aggregation accumulators.

func init() {
	beam.RegisterCoder(reflect.TypeOf(sumBitsAccum{}), encodeSumBitsAccum, decodeSumBitsAccum)
	beam.RegisterCoder(reflect.TypeOf(sumBitsAssocAccum{}), encodeSumBitsAssocAccum, decodeSumBitsAssocAccum)
}

func encodeSumBitsAccum(v sumBitsAccum) ([]byte, error) {
	return encode(v)
}

func decodeSumBitsAccum(data []byte) (sumBitsAccum, error) {
	var ret sumBitsAccum
	err := decode(&ret, data)
	return ret, err
}

func encodeSumBitsAssocAccum(v sumBitsAssocAccum) ([]byte, error) {
	return encode(v)
}

func decodeSumBitsAssocAccum(data []byte) (sumBitsAssocAccum, error) {
	var ret sumBitsAssocAccum
	err := decode(&ret, data)
	return ret, err
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(v)
	return buf.Bytes(), err
}

func decode(v interface{}, data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
