// Copyright 2026 Google LLC
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

package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"meshroom-toolkit/pkg/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/spf13/afero"
)

// IgnoreFile holds docker-ignore style patterns excluded from uploads.
const IgnoreFile = ".qarnotignore"

var defaultIgnorePatterns = []string{
	IgnoreFile,
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// Bucket is a handle on one remote storage container.
type Bucket struct {
	Name string
	api  API
}

// SyncStats counts what a sync did.
type SyncStats struct {
	Transferred int
	Skipped     int
}

// SyncDirectory uploads the files under dir whose content differs from the
// remote copy. Remote objects missing locally are left alone.
func (b *Bucket) SyncDirectory(ctx context.Context, fsys afero.Fs, dir string) (SyncStats, error) {
	var stats SyncStats

	matcher, err := readIgnorePatterns(fsys, dir)
	if err != nil {
		return stats, err
	}
	remote, err := b.listETags(ctx)
	if err != nil {
		return stats, err
	}

	err = afero.Walk(fsys, dir, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %q: %w", p, err)
		}
		if rel == "." {
			return nil
		}

		relSlash := filepath.ToSlash(rel)
		matchPath := relSlash
		if info.IsDir() {
			matchPath += "/"
		}
		ignored, err := matcher.MatchesOrParentMatches(matchPath)
		if err != nil {
			return fmt.Errorf("failed to check ignore patterns for %q: %w", p, err)
		}
		if ignored {
			if info.IsDir() {
				logging.Debug("Ignoring directory %q", relSlash)
				return filepath.SkipDir
			}
			logging.Debug("Ignoring file %q", relSlash)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		sum, err := fileMD5(fsys, p)
		if err != nil {
			return err
		}
		if etag, ok := remote[relSlash]; ok && etag == sum {
			stats.Skipped++
			return nil
		}
		if err := b.upload(ctx, fsys, p, relSlash, info.Size()); err != nil {
			return err
		}
		stats.Transferred++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to sync %q to bucket %q: %w", dir, b.Name, err)
	}
	return stats, nil
}

// SyncRemoteToLocal downloads every object whose content differs from the
// local copy under dir. Local files missing remotely are left alone.
func (b *Bucket) SyncRemoteToLocal(ctx context.Context, fsys afero.Fs, dir string) (SyncStats, error) {
	var stats SyncStats

	remote, err := b.listETags(ctx)
	if err != nil {
		return stats, err
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return stats, fmt.Errorf("failed to create %q: %w", dir, err)
	}

	for key, etag := range remote {
		local, ok := localPath(dir, key)
		if !ok {
			logging.Debug("Skipping object %q: it does not name anything under %q", key, dir)
			continue
		}
		if strings.HasSuffix(key, "/") {
			if err := fsys.MkdirAll(local, 0755); err != nil {
				return stats, fmt.Errorf("failed to create %q: %w", local, err)
			}
			continue
		}
		if sum, err := fileMD5(fsys, local); err == nil && sum == etag {
			stats.Skipped++
			continue
		}
		if err := b.download(ctx, fsys, key, local); err != nil {
			return stats, err
		}
		stats.Transferred++
	}
	return stats, nil
}

func (b *Bucket) listETags(ctx context.Context) (map[string]string, error) {
	etags := map[string]string{}
	paginator := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{Bucket: aws.String(b.Name)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %q: %w", b.Name, err)
		}
		for _, obj := range page.Contents {
			etags[aws.ToString(obj.Key)] = strings.Trim(aws.ToString(obj.ETag), `"`)
		}
	}
	return etags, nil
}

func (b *Bucket) upload(ctx context.Context, fsys afero.Fs, p, key string, size int64) error {
	f, err := fsys.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", p, err)
	}
	defer f.Close()

	logging.Debug("Uploading %s to %s/%s", p, b.Name, key)
	_, err = b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.Name),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %q: %w", key, err)
	}
	return nil
}

func (b *Bucket) download(ctx context.Context, fsys afero.Fs, key, local string) error {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download %q: %w", key, err)
	}
	defer out.Body.Close()

	if err := fsys.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("failed to create %q: %w", filepath.Dir(local), err)
	}
	f, err := fsys.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", local, err)
	}
	defer f.Close()

	logging.Debug("Downloading %s/%s to %s", b.Name, key, local)
	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("failed to write %q: %w", local, err)
	}
	return nil
}

// localPath maps an object key under dir. Keys climbing out of dir are
// confined to it; keys that resolve to dir itself have no local name.
func localPath(dir, key string) (string, bool) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", false
	}
	return filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), true
}

func readIgnorePatterns(fsys afero.Fs, dir string) (*patternmatcher.PatternMatcher, error) {
	patterns := append([]string{}, defaultIgnorePatterns...)

	ignorePath := filepath.Join(dir, IgnoreFile)
	f, err := fsys.Open(ignorePath)
	switch {
	case err == nil:
		defer f.Close()
		filePatterns, err := ignorefile.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", ignorePath, err)
		}
		patterns = append(patterns, filePatterns...)
		logging.Debug("Found %d patterns in %q", len(filePatterns), ignorePath)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to open %q: %w", ignorePath, err)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

func fileMD5(fsys afero.Fs, p string) (string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %q: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
