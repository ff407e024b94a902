package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/bitrise-io/go-utils/v2/log"
)

type s3Putter struct {
	client *s3.Client
	bucket string
	key    string
	logger log.Logger
}

// newS3Putter creates an S3 client from the temporary credentials handed out
// with the upload credential. A non-empty upload_url is used as the endpoint of
// an S3 compatible service.
func newS3Putter(ctx context.Context, credential Credential, key string, logger log.Logger) (*s3Putter, error) {
	if credential.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSConfig(ctx, credential)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Using temporary aws credentials for s3://%s in %s", credential.Bucket, credential.Region)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if credential.UploadURL != "" {
			o.BaseEndpoint = aws.String(credential.UploadURL)
			o.UsePathStyle = true
		}
	})

	return &s3Putter{
		client: client,
		bucket: credential.Bucket,
		key:    key,
		logger: logger,
	}, nil
}

func (p *s3Putter) put(ctx context.Context, content []byte, mimeType string) error {
	const op = "put s3 object"

	size := int64(len(content))
	uploader := manager.NewUploader(p.client, func(u *manager.Uploader) {
		// Always a single PutObject
		u.PartSize = max(manager.MinUploadPartSize, size+1)
		u.Concurrency = 1
	})

	p.logger.Debugf("Uploading %d bytes to s3://%s/%s", size, p.bucket, p.key)
	_, err := uploader.Upload(context.WithoutCancel(ctx), &s3.PutObjectInput{
		Body:          bytes.NewReader(content),
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(p.key),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return convertS3Error(op, err)
	}

	return nil
}

func convertS3Error(op string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &NetworkError{Op: op, Err: err}
	}

	serverErr := &ServerError{
		Op:      op,
		Message: fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		serverErr.StatusCode = respErr.HTTPStatusCode()
	}
	return serverErr
}

// loadAWSConfig builds the SDK config from the temporary credentials of an
// upload credential. The SDK retries nothing; failures surface to the runner.
func loadAWSConfig(ctx context.Context, credential Credential, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
	if credential.Region == "" {
		return aws.Config{}, fmt.Errorf("region must not be empty")
	}

	opts := append([]func(*config.LoadOptions) error{
		config.WithRegion(credential.Region),
		config.WithRetryMaxAttempts(1),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			credential.AccessKeyID, credential.SecretAccessKey, credential.SessionToken)),
	}, optFns...)

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	return cfg, nil
}
