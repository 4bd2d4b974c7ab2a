// Package storage implements the large-payload offload path of
// SPEC_FULL.md §2: observation input/output JSON bodies above a
// configurable threshold are written to MinIO instead of the
// observations.input/output columns, which then carry a small
// {"$ref": "<object key>"} pointer in their place.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/xtrace/xtrace/internal/config"
	"github.com/xtrace/xtrace/internal/pkg/circuitbreaker"
	"github.com/xtrace/xtrace/internal/pkg/logger"
)

// ref marks an offloaded column value: {"$ref": "<key>"}.
type ref struct {
	Ref string `json:"$ref"`
}

// Store offloads oversized observation input/output payloads to MinIO.
// A nil *Store is valid and makes every method a no-op passthrough, so
// callers never need to branch on whether offload is configured.
type Store struct {
	client    *minio.Client
	breaker   *circuitbreaker.CircuitBreaker
	bucket    string
	threshold int
}

// NewStore connects to MinIO and ensures the configured bucket exists.
// Grounded on the teacher's internal/pkg/database wrapper-with-logging
// construction style (connect, verify, wrap in a named type).
func NewStore(ctx context.Context, cfg config.MinIOConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "xtrace-payloads"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	threshold := cfg.ThresholdBytes
	if threshold <= 0 {
		threshold = 32 * 1024
	}

	return &Store{
		client: client,
		bucket: bucket,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:    "minio-offload",
			Timeout: 30 * time.Second,
		}),
		threshold: threshold,
	}, nil
}

// Offload replaces raw with a {"$ref": ...} pointer when it exceeds the
// configured threshold, uploading the original bytes to
// "{observationID}/{field}.json". On any failure the payload is kept
// inline and the error is logged, never propagated — an offload failure
// must not block ingestion (SPEC_FULL.md §2).
func (s *Store) Offload(ctx context.Context, observationID uuid.UUID, field string, raw json.RawMessage) json.RawMessage {
	if s == nil || len(raw) <= s.threshold {
		return raw
	}

	key := fmt.Sprintf("%s/%s.json", observationID, field)
	err := s.breaker.Execute(ctx, func() error {
		_, putErr := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(raw), int64(len(raw)),
			minio.PutObjectOptions{ContentType: "application/json"})
		return putErr
	})
	if err != nil {
		logger.Warn("payload offload failed, storing inline",
			zap.String("key", key), zap.Error(err))
		return raw
	}

	pointer, _ := json.Marshal(ref{Ref: key})
	return pointer
}

// Resolve reads raw back in, fetching the referenced object if raw is a
// {"$ref": ...} pointer, and returns raw unchanged otherwise. A failed
// fetch logs and returns the pointer as-is rather than erroring the
// whole read path.
func (s *Store) Resolve(ctx context.Context, raw json.RawMessage) json.RawMessage {
	if s == nil || len(raw) == 0 {
		return raw
	}
	key, ok := refKey(raw)
	if !ok {
		return raw
	}

	var data []byte
	err := s.breaker.Execute(ctx, func() error {
		obj, getErr := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if getErr != nil {
			return getErr
		}
		defer obj.Close()
		data, getErr = io.ReadAll(obj)
		return getErr
	})
	if err != nil {
		logger.Warn("payload resolve failed, returning reference",
			zap.String("key", key), zap.Error(err))
		return raw
	}
	return data
}

// refKey reports whether raw is exactly a {"$ref": "<key>"} object and,
// if so, returns the key.
func refKey(raw json.RawMessage) (string, bool) {
	var r ref
	if err := json.Unmarshal(raw, &r); err != nil || r.Ref == "" {
		return "", false
	}
	var roundTrip map[string]json.RawMessage
	if err := json.Unmarshal(raw, &roundTrip); err != nil || len(roundTrip) != 1 {
		return "", false
	}
	if _, ok := roundTrip["$ref"]; !ok {
		return "", false
	}
	return r.Ref, true
}
