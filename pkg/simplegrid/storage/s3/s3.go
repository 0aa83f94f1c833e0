package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

const filenameMetaKey = "filename"

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	KeyPrefix       string // Optional prefix prepended to every object key
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the simplegrid.BlobStore interface
type Backend struct {
	client *s3.Client
	bucket string
	config Config
}

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(static))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		}
	})

	backend := &Backend{client: client, bucket: config.Bucket, config: config}
	if config.CreateBucketIfNotExist {
		if err := backend.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return backend, nil
}

func (b *Backend) key(id uuid.UUID) string {
	return b.config.KeyPrefix + id.String()
}

// ensureBucket creates the bucket unless HeadBucket finds it
func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	if !bucketMissing(err) {
		return fmt.Errorf("failed to check bucket %s: %w", b.bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	// us-east-1 rejects an explicit location constraint
	if b.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}
	if _, err := b.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", b.bucket, err)
	}
	return nil
}

// bucketMissing matches HeadBucket failures for an absent bucket. MinIO
// answers with a bare 400 or 404 depending on version.
func bucketMissing(err error) bool {
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NotFound", "BadRequest":
			return true
		}
	}
	return false
}

// Put uploads a blob to S3. Object keys are create-only: an existing key
// yields simplegrid.ErrBlobExists.
func (b *Backend) Put(ctx context.Context, r io.Reader, params simplegrid.PutParams) (uuid.UUID, error) {
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err == nil {
		return uuid.Nil, simplegrid.ErrBlobExists
	}
	if !isNotFound(err) {
		return uuid.Nil, b.wrap(id, "put", fmt.Errorf("failed to check object: %w", err))
	}

	contentType := params.ContentType
	if contentType == "" {
		contentType = simplegrid.DefaultContentType
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(id)),
		Body:        r,
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{filenameMetaKey: params.Filename},
	}
	b.applySSE(input)

	uploader := manager.NewUploader(b.client)
	if _, err := uploader.Upload(ctx, input); err != nil {
		return uuid.Nil, b.wrap(id, "put", fmt.Errorf("failed to upload to S3: %w", err))
	}
	return id, nil
}

func (b *Backend) applySSE(input *s3.PutObjectInput) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

// Get downloads a blob from S3. The body streams from the open response.
func (b *Backend) Get(ctx context.Context, id uuid.UUID) (*simplegrid.BlobHandle, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, simplegrid.ErrBlobNotFound
		}
		return nil, b.wrap(id, "get", fmt.Errorf("failed to download from S3: %w", err))
	}

	contentType := aws.ToString(result.ContentType)
	if contentType == "" {
		contentType = simplegrid.DefaultContentType
	}

	return &simplegrid.BlobHandle{
		ID:          id,
		Filename:    result.Metadata[filenameMetaKey],
		ContentType: contentType,
		Size:        aws.ToInt64(result.ContentLength),
		UploadDate:  aws.ToTime(result.LastModified),
		Checksum:    strings.Trim(aws.ToString(result.ETag), "\""),
		Body:        result.Body,
	}, nil
}

// Delete deletes a blob from S3. S3 does not report missing keys, so a
// missing id is indistinguishable from a deleted one.
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return simplegrid.ErrBlobNotFound
		}
		return b.wrap(id, "delete", fmt.Errorf("failed to delete from S3: %w", err))
	}
	return nil
}

func (b *Backend) wrap(id uuid.UUID, op string, err error) error {
	return &simplegrid.StorageError{Backend: "s3", ID: id, Op: op, Err: err}
}

// isNotFound matches the missing-key errors of GetObject (NoSuchKey) and
// HeadObject (NotFound, which carries no body).
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
