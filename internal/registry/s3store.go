package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3StoreOptions struct {
	Logger log.Logger

	// archives live at s3://{Bucket}/{Prefix}/{key}
	Bucket string
	Prefix string

	// MaxObjectSize bounds Get. Zero uses plugin.MaxPackageSize.
	MaxObjectSize int64

	// Client overrides the S3 client built from AWSConfig.
	Client S3API

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

// S3Store keeps archives as objects in an S3 bucket.
type S3Store struct {
	opts   S3StoreOptions
	client S3API
	logger log.Logger
}

// NewS3Store creates an S3-backed archive store.
func NewS3Store(ctx context.Context, opts S3StoreOptions) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxObjectSize <= 0 {
		opts.MaxObjectSize = plugin.MaxPackageSize
	}

	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		var err error
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Store{opts: opts, client: client, logger: opts.Logger}, nil
}

func (s *S3Store) objectKey(key string) (string, error) {
	if !pathutil.IsSafeRelative(key) || path.Base(key) != key {
		return "", xerrors.Newf("invalid storage key %q", key)
	}
	if s.opts.Prefix != "" {
		return path.Join(s.opts.Prefix, key), nil
	}
	return key, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	k, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(s.opts.Bucket),
		Key:               aws.String(k),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String("application/zip"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	})
	if err != nil {
		return xerrors.Wrapf(err, "put S3 object s3://%s/%s", s.opts.Bucket, k)
	}
	s.logger.Debug(ctx, "stored plugin archive", "bucket", s.opts.Bucket, "key", k, "bytes", len(data))
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &fs.PathError{Op: "get", Path: k, Err: fs.ErrNotExist}
		}
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", s.opts.Bucket, k)
	}
	defer out.Body.Close()

	lr := io.LimitReader(out.Body, s.opts.MaxObjectSize+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read S3 object s3://%s/%s", s.opts.Bucket, k)
	}
	if int64(len(data)) > s.opts.MaxObjectSize {
		return nil, fmt.Errorf("archive %s exceeds max size (limit %d)", k, s.opts.MaxObjectSize)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	k, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(k),
	})
	if err != nil && !isNotFound(err) {
		return xerrors.Wrapf(err, "delete S3 object s3://%s/%s", s.opts.Bucket, k)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
