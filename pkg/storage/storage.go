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
	"errors"
	"fmt"

	"meshroom-toolkit/pkg/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrBucketUnavailable is returned when a bucket cannot be found.
var ErrBucketUnavailable = errors.New("bucket storage unavailable")

// API is the subset of the S3 client used by the toolkit.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Provisioner retrieves or creates named buckets.
type Provisioner interface {
	RetrieveBucket(ctx context.Context, name string) (*Bucket, error)
	CreateBucket(ctx context.Context, name string) (*Bucket, error)
}

// Store is the platform bucket storage.
type Store struct {
	api API
}

// NewStore wraps an existing S3 API implementation.
func NewStore(api API) *Store {
	return &Store{api: api}
}

// NewS3Store connects to the S3-compatible storage at endpoint.
func NewS3Store(ctx context.Context, endpoint, accessKey, secretKey string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage client config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return NewStore(client), nil
}

// RetrieveBucket returns the named bucket, or ErrBucketUnavailable.
func (s *Store) RetrieveBucket(ctx context.Context, name string) (*Bucket, error) {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("bucket %q: %w", name, ErrBucketUnavailable)
		}
		return nil, fmt.Errorf("failed to retrieve bucket %q: %w", name, err)
	}
	return &Bucket{Name: name, api: s.api}, nil
}

// CreateBucket creates the named bucket. A bucket created concurrently by
// someone else with the same credentials is returned as if we had created it.
func (s *Store) CreateBucket(ctx context.Context, name string) (*Bucket, error) {
	_, err := s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	if err != nil && !isAlreadyExists(err) {
		return nil, fmt.Errorf("failed to create bucket %q: %w", name, err)
	}
	if err != nil {
		logging.Debug("bucket %q already exists, reusing it", name)
	}
	return &Bucket{Name: name, api: s.api}, nil
}

// GetOrCreate retrieves name, creating it when the storage reports it absent.
// The boolean reports whether a creation was issued.
func GetOrCreate(ctx context.Context, p Provisioner, name string) (*Bucket, bool, error) {
	b, err := p.RetrieveBucket(ctx, name)
	if err == nil {
		return b, false, nil
	}
	if !errors.Is(err, ErrBucketUnavailable) {
		return nil, false, err
	}
	b, err = p.CreateBucket(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

func isAlreadyExists(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	return errors.As(err, &owned) || errors.As(err, &exists)
}
