package blob

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-blobupload/blob/network"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// ErrFileNotFound ...
var ErrFileNotFound = network.ErrFileNotFound

// Files looks up, downloads and deletes uploaded files.
type Files struct {
	client     *network.FileClient
	httpClient *retryablehttp.Client
	logger     log.Logger
}

// NewFiles ...
func NewFiles(config Config, logger log.Logger) *Files {
	httpClient := network.NewHTTPClient(logger)
	return &Files{
		client:     network.NewFileClient(httpClient, config.apiParams(), logger),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Get returns the state of an uploaded file.
func (f *Files) Get(ctx context.Context, objectID string) (State, error) {
	record, err := f.client.Get(ctx, objectID)
	if err != nil {
		return State{}, err
	}

	state := State{
		Name:      record.Name,
		MimeType:  record.MimeType,
		RemoteURL: record.URL,
		CloudKey:  record.Key,
		ObjectID:  record.ObjectID,
		Bucket:    record.Bucket,
		MetaData:  record.MetaData,
	}
	if size, ok := record.MetaData["size"].(float64); ok {
		state.BytesCompleted = int64(size)
	}

	return state, nil
}

// Delete removes an uploaded file.
func (f *Files) Delete(ctx context.Context, state State) error {
	if state.ObjectID == "" {
		return fmt.Errorf("file %s has no object ID", state.Name)
	}

	if err := f.client.Delete(ctx, state.ObjectID); err != nil {
		return fmt.Errorf("delete %s: %w", state.Name, err)
	}

	f.logger.Debugf("Deleted %s (%s)", state.Name, state.ObjectID)
	return nil
}

// Download saves the content of an uploaded file to dest.
func (f *Files) Download(ctx context.Context, state State, dest string) error {
	if !state.IsUploaded() {
		return fmt.Errorf("file %s is not uploaded", state.Name)
	}

	downloader := got.New()
	downloader.Client = f.httpClient.StandardClient()

	f.logger.Debugf("Downloading %s to %s", state.RemoteURL, dest)
	if err := downloader.Do(got.NewDownload(ctx, state.RemoteURL, dest)); err != nil {
		return fmt.Errorf("download %s: %w", state.Name, err)
	}

	return nil
}
