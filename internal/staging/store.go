// Package staging keeps job payloads in S3 under content-addressed keys.
package staging

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Key returns the object key for content: the hex SHA-256 of the bytes.
func Key(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// BucketName returns the per-account staging bucket name.
func BucketName(prefix, accountID string) string {
	return prefix + "-" + accountID
}

// API is the part of the S3 client the store uses.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner signs GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store puts payloads into one bucket. Writes are idempotent: a key that
// already exists holds the same bytes and is not uploaded again.
type Store struct {
	api     API
	presign Presigner
	bucket  string
}

// NewStore creates a store for bucket.
func NewStore(api API, presign Presigner, bucket string) *Store {
	return &Store{api: api, presign: presign, bucket: bucket}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Put uploads content under key unless the object already exists.
func (s *Store) Put(ctx context.Context, key string, content []byte) error {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		slog.Debug("Payload already staged", "bucket", s.bucket, "key", key)
		return nil
	}
	if !apperrors.IsNotFound(err) {
		return apperrors.FromAWS("s3.HeadObject", err)
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return apperrors.FromAWS("s3.PutObject", err)
	}
	return nil
}

// PresignGet returns a GET URL for key valid for ttl.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)},
		s3.WithPresignExpires(ttl),
	)
	if err != nil {
		return "", apperrors.FromAWS("s3.PresignGetObject", err)
	}
	return req.URL, nil
}

// Ready checks that the bucket exists and is reachable.
func (s *Store) Ready(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return apperrors.FromAWS("s3.HeadBucket", err)
}
