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
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// IterOptions are the configuration options used by the iterators.
type IterOptions struct {
	Max        int    // Maximum number of entries to return.
	Recursive  bool   // Enable recursive descent.
	StartAfter string // Only entries lexically after this are returned.
}

// Bucket provides read access to the files which senders deliver.
type Bucket interface {
	// Iter calls f for each entry in the given directory, in sorted
	// order. The argument to f is the full object name, including the
	// directory.
	Iter(ctx context.Context, dir string, f func(string) error, options IterOptions) error

	// Get returns a reader for the given object name.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
}

// localBucket is a bucket backed by a filesystem.
type localBucket struct {
	filesystem fs.FS
}

var _ Bucket = (*localBucket)(nil)

// newLocalBucket returns a bucket rooted at the directory.
func newLocalBucket(dir string) *localBucket {
	return &localBucket{filesystem: os.DirFS(dir)}
}

// Get implements Bucket.
func (b *localBucket) Get(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := b.filesystem.Open(cleanName(name))
	return f, errors.WithStack(err)
}

// Iter implements Bucket.
func (b *localBucket) Iter(
	ctx context.Context, dir string, f func(string) error, options IterOptions,
) error {
	count := 0
	return b.iter(ctx, cleanName(dir), f, &count, options)
}

// iter recursively scans the entries in the filesystem, calling f for
// each file that matches the options.
func (b *localBucket) iter(
	ctx context.Context, dir string, f func(string) error, count *int, options IterOptions,
) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	info, err := fs.Stat(b.filesystem, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "stat %s", dir)
	}
	if !info.IsDir() {
		return nil
	}
	files, err := fs.ReadDir(b.filesystem, dir)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, file := range files {
		if options.Max > 0 && *count >= options.Max {
			return nil
		}
		name := path.Join(dir, file.Name())
		if file.IsDir() {
			if options.Recursive {
				if err := b.iter(ctx, name, f, count, options); err != nil {
					return err
				}
			}
			continue
		}
		if options.StartAfter != "" && name <= options.StartAfter {
			continue
		}
		if err := f(name); err != nil {
			return err
		}
		*count++
	}
	return nil
}

// cleanName converts an object name to a path within an fs.FS.
func cleanName(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		return "."
	}
	return name
}

// s3Access defines the functions used to interact with the minio SDK.
type s3Access interface {
	// GetObject returns the content of the named object.
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	// ListObjects scans the entries in the bucket.
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// minioClient narrows the return type of GetObject so that the client
// may be replaced in tests.
type minioClient struct {
	ref *minio.Client
}

var _ s3Access = (*minioClient)(nil)

func (c *minioClient) GetObject(
	ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions,
) (io.ReadCloser, error) {
	return c.ref.GetObject(ctx, bucketName, objectName, opts)
}

func (c *minioClient) ListObjects(
	ctx context.Context, bucketName string, opts minio.ListObjectsOptions,
) <-chan minio.ObjectInfo {
	return c.ref.ListObjects(ctx, bucketName, opts)
}

// S3Config has the parameters used to connect to an S3-compatible
// store.
type S3Config struct {
	AccessKey    string
	Bucket       string
	Endpoint     string // Host and port of the service.
	Insecure     bool   // Use plain HTTP.
	SecretKey    string
	SessionToken string
}

// s3Bucket reads objects from an S3-compatible store.
type s3Bucket struct {
	client s3Access
	bucket string
}

var _ Bucket = (*s3Bucket)(nil)

// newS3Bucket connects to the service described by the configuration.
func newS3Bucket(cfg *S3Config) (*s3Bucket, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: !cfg.Insecure,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", cfg.Endpoint)
	}
	return &s3Bucket{client: &minioClient{ref: client}, bucket: cfg.Bucket}, nil
}

// Get implements Bucket.
func (b *s3Bucket) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	log.Tracef("get %s/%s", b.bucket, name)
	ret, err := b.client.GetObject(ctx, b.bucket, name, minio.GetObjectOptions{})
	return ret, errors.WithStack(err)
}

// Iter implements Bucket.
func (b *s3Bucket) Iter(
	ctx context.Context, dir string, f func(string) error, options IterOptions,
) error {
	// A prefix without a trailing delimiter would match only itself.
	if dir != "" {
		dir = strings.TrimSuffix(dir, "/") + "/"
	}
	opts := minio.ListObjectsOptions{
		MaxKeys:    options.Max,
		Prefix:     dir,
		Recursive:  options.Recursive,
		StartAfter: options.StartAfter,
	}
	// Stops the listing goroutine if the loop exits early.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	count := 0
	for object := range b.client.ListObjects(listCtx, b.bucket, opts) {
		if object.Err != nil {
			return errors.WithStack(object.Err)
		}
		// Directory markers.
		if object.Key == "" || strings.HasSuffix(object.Key, "/") {
			continue
		}
		if options.Max > 0 && count >= options.Max {
			break
		}
		if err := f(object.Key); err != nil {
			return err
		}
		count++
	}
	return ctx.Err()
}
