// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package inbox

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bucketFiles = map[string]string{
	"a/001.ndjson":     "one",
	"a/002.ndjson":     "two",
	"a/sub/003.json":   "three",
	"b/004.ndjson":     "four",
	"top-level.ndjson": "five",
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// mockS3 is an in-memory S3 bucket.
type mockS3 struct {
	bucketName string
	files      map[string][]byte
}

var _ s3Access = (*mockS3)(nil)

func (m *mockS3) GetObject(
	_ context.Context, bucketName, objectName string, _ minio.GetObjectOptions,
) (io.ReadCloser, error) {
	if bucketName != m.bucketName {
		return nil, errors.New("bucket not found")
	}
	buf, ok := m.files[objectName]
	if !ok {
		return nil, errors.New("key not found")
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *mockS3) ListObjects(
	ctx context.Context, bucketName string, opts minio.ListObjectsOptions,
) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		if bucketName != m.bucketName {
			ch <- minio.ObjectInfo{Err: errors.New("bucket not found")}
			return
		}
		var keys []string
		for key := range m.files {
			if !strings.HasPrefix(key, opts.Prefix) || key <= opts.StartAfter {
				continue
			}
			if !opts.Recursive && strings.Contains(key[len(opts.Prefix):], "/") {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			select {
			case ch <- minio.ObjectInfo{Key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func checkBucket(t *testing.T, b Bucket) {
	a := assert.New(t)
	r := require.New(t)
	ctx := context.Background()

	list := func(dir string, opts IterOptions) []string {
		var ret []string
		r.NoError(b.Iter(ctx, dir, func(name string) error {
			ret = append(ret, name)
			return nil
		}, opts))
		return ret
	}

	a.Equal([]string{"a/001.ndjson", "a/002.ndjson"}, list("a", IterOptions{}))
	a.Equal([]string{"a/001.ndjson", "a/002.ndjson", "a/sub/003.json"},
		list("a", IterOptions{Recursive: true}))
	a.Equal([]string{"a/002.ndjson", "a/sub/003.json", "b/004.ndjson"},
		list("", IterOptions{Recursive: true, StartAfter: "a/001.ndjson", Max: 3}))
	a.Empty(list("missing", IterOptions{Recursive: true}))

	rc, err := b.Get(ctx, "b/004.ndjson")
	r.NoError(err)
	buf, err := io.ReadAll(rc)
	r.NoError(err)
	r.NoError(rc.Close())
	a.Equal("four", string(buf))

	_, err = b.Get(ctx, "b/nope.ndjson")
	a.Error(err)

	// Callback errors stop the iteration.
	stop := errors.New("stop")
	count := 0
	err = b.Iter(ctx, "", func(string) error {
		count++
		return stop
	}, IterOptions{Recursive: true})
	a.ErrorIs(err, stop)
	a.Equal(1, count)
}

func TestLocalBucket(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, bucketFiles)
	checkBucket(t, newLocalBucket(dir))
}

func TestS3Bucket(t *testing.T) {
	files := make(map[string][]byte, len(bucketFiles))
	for name, content := range bucketFiles {
		files[name] = []byte(content)
	}
	checkBucket(t, &s3Bucket{
		bucket: "inbox",
		client: &mockS3{bucketName: "inbox", files: files},
	})
}

func TestConfigPreflight(t *testing.T) {
	tcs := []struct {
		url    string
		dir    string
		errMsg string
		s3     *S3Config
	}{
		{url: "", dir: ""},
		{url: "file:///var/inbox", dir: "."},
		{url: "file://", errMsg: "missing directory"},
		{
			url: "s3://deliveries/store-001/?AWS_ENDPOINT=http://localhost:9000" +
				"&AWS_ACCESS_KEY_ID=key&AWS_SECRET_ACCESS_KEY=secret",
			dir: "store-001/",
			s3: &S3Config{
				AccessKey: "key",
				Bucket:    "deliveries",
				Endpoint:  "localhost:9000",
				Insecure:  true,
				SecretKey: "secret",
			},
		},
		{url: "s3:///prefix", errMsg: "missing bucket"},
		{url: "gs://bucket", errMsg: "unknown inboxURL scheme"},
	}
	for _, tc := range tcs {
		t.Run(tc.url, func(t *testing.T) {
			a := assert.New(t)
			cfg := &Config{StorageURL: tc.url}
			err := cfg.Preflight()
			if tc.errMsg != "" {
				a.ErrorContains(err, tc.errMsg)
				return
			}
			a.NoError(err)
			a.Equal(tc.dir, cfg.dir)
			a.Equal(tc.s3, cfg.s3)
			a.Equal(DefaultMaxFiles, cfg.MaxFiles)
		})
	}
}
