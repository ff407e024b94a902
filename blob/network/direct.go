package network

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
)

// objectPutter stores a whole object in a single operation.
type objectPutter interface {
	put(ctx context.Context, content []byte, mimeType string) error
}

// directStrategy sends the whole file at once, either to a presigned URL or
// straight to an S3 bucket with temporary credentials.
type directStrategy struct {
	putter   objectPutter
	reader   *chunkuploader.RangeReader
	reporter *chunkuploader.ProgressReporter
	logger   log.Logger

	credential Credential
	mimeType   string
	total      int64

	progress Progress
}

func newDirectStrategy(ctx context.Context, params StrategyParams) (*directStrategy, error) {
	var putter objectPutter
	if params.Credential.AccessKeyID != "" && params.Credential.SecretAccessKey != "" {
		key := params.Credential.Key
		if key == "" {
			key = params.CloudKey
		}
		s3Putter, err := newS3Putter(ctx, params.Credential, key, params.Logger)
		if err != nil {
			return nil, err
		}
		putter = s3Putter
	} else {
		if params.Credential.UploadURL == "" {
			return nil, fmt.Errorf("direct upload needs an upload_url or access keys")
		}
		putter = presignedPutter{
			client: newAPIClient(params.HTTPClient, params.Credential.UploadURL, nil, params.Logger),
		}
	}

	return &directStrategy{
		putter:     putter,
		reader:     params.Reader,
		reporter:   params.Reporter,
		logger:     params.Logger,
		credential: params.Credential,
		mimeType:   params.MimeType,
		total:      params.Reader.Size(),
		progress:   Progress{ObjectID: params.Credential.ObjectID},
	}, nil
}

func (s *directStrategy) Kind() Kind {
	return KindDirect
}

func (s *directStrategy) Progress() Progress {
	return s.progress
}

func (s *directStrategy) IsComplete() bool {
	return s.progress.Complete
}

func (s *directStrategy) UploadNextChunk(ctx context.Context) (int64, error) {
	s.reporter.Report(0, s.total)

	content, err := s.reader.ReadRange(0, s.total)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	if err := s.putter.put(ctx, content, s.mimeType); err != nil {
		return 0, err
	}

	s.progress = s.progress.completed(s.total, s.credential.URL, "")
	s.reporter.Report(s.total, s.total)
	return int64(len(content)), nil
}

type presignedPutter struct {
	client apiClient
}

func (p presignedPutter) put(ctx context.Context, content []byte, mimeType string) error {
	const op = "put object"

	req, err := p.client.newRequest(ctx, http.MethodPut, "", content, mimeType)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}

	_, err = p.client.execute(op, req)
	return err
}
