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

// Package fileio reads and writes the files used by the RAPPOR tools. Paths
// may point to the local filesystem or to Google Cloud Storage ("gs://").
package fileio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/ugorji/go/codec"
)

const gcsPrefix = "gs://"

// IsGCSPath reports whether filename names an object in Google Cloud Storage.
func IsGCSPath(filename string) bool {
	return strings.HasPrefix(filename, gcsPrefix)
}

// ParseGCSPath gets the bucket and object names from the input filename.
func ParseGCSPath(filename string) (bucket, object string, err error) {
	parsed, err := url.Parse(filename)
	if err != nil {
		return
	}
	if parsed.Scheme != "gs" {
		err = fmt.Errorf("object %q must have 'gs' scheme", filename)
		return
	}
	if parsed.Host == "" {
		err = fmt.Errorf("object %q must have bucket", filename)
		return
	}

	bucket = parsed.Host
	if parsed.Path != "" {
		object = parsed.Path[1:]
	}
	return
}

// Open returns a reader for a local file or a GCS object. The caller must
// close it.
func Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	if !IsGCSPath(filename) {
		return os.Open(filename)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	bucket, object, err := ParseGCSPath(filename)
	if err != nil {
		client.Close()
		return nil, err
	}
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &gcsReadCloser{Reader: reader, client: client}, nil
}

type gcsReadCloser struct {
	*storage.Reader
	client *storage.Client
}

func (r *gcsReadCloser) Close() error {
	err := r.Reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create returns a writer for a local file or a GCS object. Local parent
// directories are created when missing. Data is only committed once the
// writer is closed without error.
func Create(ctx context.Context, filename string) (io.WriteCloser, error) {
	if !IsGCSPath(filename) {
		if dir := filepath.Dir(filename); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, err
			}
		}
		return os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	bucket, object, err := ParseGCSPath(filename)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &gcsWriteCloser{Writer: client.Bucket(bucket).Object(object).NewWriter(ctx), client: client}, nil
}

type gcsWriteCloser struct {
	*storage.Writer
	client *storage.Client
}

func (w *gcsWriteCloser) Close() error {
	err := w.Writer.Close()
	if cerr := w.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadLines reads the input file line by line and returns the content as a slice of strings.
//
// The file can be stored locally or in the GCS.
func ReadLines(ctx context.Context, filename string) ([]string, error) {
	r, err := Open(ctx, filename)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	var result []string
	for scanner.Scan() {
		result = append(result, scanner.Text())
	}
	return result, scanner.Err()
}

// WriteLines writes the input string slice to the output file, one string per line.
//
// The file can be stored locally or in the GCS.
func WriteLines(ctx context.Context, lines []string, filename string) error {
	w, err := Create(ctx, filename)
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := buf.WriteString(line + "\n"); err != nil {
			w.Close()
			return err
		}
	}
	if err := buf.Flush(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ReadBytes reads the whole content of a local file or a GCS object.
func ReadBytes(ctx context.Context, filename string) ([]byte, error) {
	r, err := Open(ctx, filename)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteBytes writes bytes into a local or GCS file.
func WriteBytes(ctx context.Context, data []byte, filename string) error {
	w, err := Create(ctx, filename)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// JoinPath joins the directory and the filename to get the full path of a file.
func JoinPath(directory, filename string) string {
	// path.Join turns "gs://foo" into "gs:/foo".
	if IsGCSPath(directory) {
		if strings.HasSuffix(directory, "/") {
			return directory + filename
		}
		return directory + "/" + filename
	}
	return path.Join(directory, filename)
}

// MarshalCBOR serializes the input data in CBOR format.
func MarshalCBOR(v interface{}) ([]byte, error) {
	encBuf := new(bytes.Buffer)
	enc := codec.NewEncoder(encBuf, &codec.CborHandle{})
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return encBuf.Bytes(), nil
}

// UnmarshalCBOR parses the bytes in CBOR format.
func UnmarshalCBOR(b []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewBuffer(b), &codec.CborHandle{})
	return dec.Decode(v)
}
