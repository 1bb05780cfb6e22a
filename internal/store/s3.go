package store

import (
	"bytes"
	"context"
	"io"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// maxUpdateAttempts bounds the optimistic retries of Update
const maxUpdateAttempts = 5

// ObjectAPI is the subset of the S3 client the store uses
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the collection as a single object. PutObject replaces
// the object atomically.
type S3Store struct {
	client ObjectAPI
	bucket string
	key    string
}

// NewS3Store creates a store from the default AWS credential chain
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is not configured")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3StoreWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Key), nil
}

// NewS3StoreWithClient creates a store with a pre-configured client
func NewS3StoreWithClient(client ObjectAPI, bucket, key string) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key}
}

// Read downloads the collection, a missing object is an empty collection
func (s *S3Store) Read(ctx context.Context) (models.Collection, error) {
	collection, _, err := s.read(ctx)
	return collection, err
}

// read also returns the object's ETag, empty when the object does not exist
func (s *S3Store) read(ctx context.Context) (models.Collection, string, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return models.Collection{Events: []models.Event{}}, "", nil
		}
		return models.Collection{}, "", apperr.Wrap(apperr.KindStore, err, "failed to download collection")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Collection{}, "", apperr.Wrap(apperr.KindStore, err, "failed to read collection object")
	}
	collection, err := decode(b)
	return collection, aws.ToString(resp.ETag), err
}

// Update is optimistic: the upload is conditional on the ETag that was
// read, and a concurrent writer makes it start over with a fresh read.
// fn may therefore run more than once.
func (s *S3Store) Update(ctx context.Context, fn UpdateFunc) error {
	for attempt := 1; ; attempt++ {
		current, etag, err := s.read(ctx)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		b, err := encode(next)
		if err != nil {
			return err
		}

		input := &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key),
			Body:        bytes.NewReader(b),
			ContentType: aws.String("application/json"),
		}
		if etag == "" {
			input.IfNoneMatch = aws.String("*")
		} else {
			input.IfMatch = aws.String(etag)
		}

		_, err = s.client.PutObject(ctx, input)
		if err == nil {
			return nil
		}
		if !isConditionalConflict(err) || attempt == maxUpdateAttempts {
			return apperr.Wrap(apperr.KindStore, err, "failed to upload collection")
		}
		log.Debug().Int("attempt", attempt).Msg("Collection changed concurrently, retrying update")
	}
}

func isConditionalConflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

// Write uploads the collection
func (s *S3Store) Write(ctx context.Context, collection models.Collection) error {
	b, err := encode(collection)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStore, err, "failed to upload collection")
	}
	return nil
}
