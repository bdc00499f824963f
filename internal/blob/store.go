// Package blob implements the S3-compatible tier store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/internal/metrics"
	"github.com/gftdcojp/tickstore/internal/tier"
	"github.com/gftdcojp/tickstore/pkg/s3util"
	"go.uber.org/zap"
)

// MetaSourceModTime is the object metadata key carrying the source file's
// modification time.
const MetaSourceModTime = "tickstore-source-mtime"

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store implements tier.Store for S3-compatible object storage. Writes are
// spooled to a local temp file and uploaded in one PutObject on commit.
type Store struct {
	s3           S3API
	bucket       string
	prefix       string
	storageClass s3types.StorageClass
	tierName     string
	logger       *zap.Logger
}

// NewStore creates a new blob store using an S3API implementation.
func NewStore(s3api S3API, cfg config.BlobTierConfig, tierName string, logger *zap.Logger) *Store {
	return &Store{
		s3:           s3api,
		bucket:       cfg.Bucket,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		storageClass: s3types.StorageClass(cfg.StorageClass),
		tierName:     tierName,
		logger:       logger,
	}
}

func (s *Store) objectKey(rel string) string {
	return s3util.JoinKey(s.prefix, rel)
}

func (s *Store) Create(ctx context.Context, rel string, modTime time.Time) (tier.Writer, error) {
	f, err := os.CreateTemp("", "tickstore-upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating upload spool: %w", err)
	}
	return &upload{ctx: ctx, store: s, spool: f, key: s.objectKey(rel), modTime: modTime}, nil
}

func (s *Store) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	key := s.objectKey(rel)
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", key, tier.ErrNotFound)
		}
		return nil, fmt.Errorf("downloading %s from S3: %w", key, err)
	}
	return resp.Body, nil
}

func (s *Store) Exists(ctx context.Context, rel string) (bool, error) {
	key := s.objectKey(rel)
	_, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", key, err)
}

func (s *Store) Delete(ctx context.Context, rel string) error {
	key := s.objectKey(rel)
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("deleting %s from S3: %w", key, err)
	}
	return nil
}

func (s *Store) Location(rel string) string {
	return "s3://" + s.bucket + "/" + s.objectKey(rel)
}

type upload struct {
	ctx     context.Context
	store   *Store
	spool   *os.File
	key     string
	modTime time.Time
	size    int64
	done    bool
}

func (u *upload) Write(p []byte) (int, error) {
	n, err := u.spool.Write(p)
	u.size += int64(n)
	return n, err
}

func (u *upload) Commit() error {
	if u.done {
		return errors.New("upload already finished")
	}
	u.done = true
	defer u.cleanup()

	if _, err := u.spool.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s := u.store
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &u.key,
		Body:          u.spool,
		ContentLength: aws.Int64(u.size),
		ContentType:   aws.String("application/octet-stream"),
	}
	if !u.modTime.IsZero() {
		input.Metadata = map[string]string{
			MetaSourceModTime: u.modTime.UTC().Format(time.RFC3339Nano),
		}
	}
	if s.storageClass != "" {
		input.StorageClass = s.storageClass
	}

	start := time.Now()
	if _, err := s.s3.PutObject(u.ctx, input); err != nil {
		metrics.S3UploadErrors.WithLabelValues(s.tierName).Inc()
		return fmt.Errorf("uploading %s to S3: %w", u.key, err)
	}
	metrics.S3UploadDuration.WithLabelValues(s.tierName).Observe(time.Since(start).Seconds())

	s.logger.Debug("object uploaded to S3",
		zap.String("key", u.key),
		zap.Int64("size", u.size),
	)
	return nil
}

func (u *upload) Abort() error {
	if u.done {
		return nil
	}
	u.done = true
	u.cleanup()
	return nil
}

func (u *upload) cleanup() {
	u.spool.Close()
	os.Remove(u.spool.Name())
}
