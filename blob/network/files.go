package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrFileNotFound is returned when the data platform has no file record for an ID.
var ErrFileNotFound = errors.New("file not found")

// FileRecord is the stored description of an uploaded file.
type FileRecord struct {
	ObjectID string                 `json:"objectId"`
	Name     string                 `json:"name"`
	URL      string                 `json:"url"`
	MimeType string                 `json:"mime_type"`
	Bucket   string                 `json:"bucket"`
	Key      string                 `json:"key"`
	MetaData map[string]interface{} `json:"metaData"`
}

// FileClient reads and deletes file records.
type FileClient struct {
	client apiClient
}

// NewFileClient ...
func NewFileClient(client *retryablehttp.Client, params APIParams, logger log.Logger) *FileClient {
	return &FileClient{
		client: newAPIClient(client, params.BaseURL, params.headers(), logger),
	}
}

// Get fetches the record of the file with the given object ID.
func (c *FileClient) Get(ctx context.Context, objectID string) (FileRecord, error) {
	const op = "get file"

	if objectID == "" {
		return FileRecord{}, fmt.Errorf("object ID must not be empty")
	}

	req, err := c.client.newRequest(ctx, http.MethodGet, "files/"+url.PathEscape(objectID), nil, "")
	if err != nil {
		return FileRecord{}, fmt.Errorf("create %s request: %w", op, err)
	}

	var record FileRecord
	if err := c.client.executeJSON(op, req, &record); err != nil {
		return FileRecord{}, notFound(err)
	}
	if record.ObjectID == "" {
		record.ObjectID = objectID
	}

	return record, nil
}

// Delete removes the file record and the stored object.
func (c *FileClient) Delete(ctx context.Context, objectID string) error {
	const op = "delete file"

	if objectID == "" {
		return fmt.Errorf("object ID must not be empty")
	}

	req, err := c.client.newRequest(ctx, http.MethodDelete, "files/"+url.PathEscape(objectID), nil, "")
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}

	_, err = c.client.execute(op, req)
	return notFound(err)
}

func notFound(err error) error {
	var serverErr *ServerError
	if errors.As(err, &serverErr) && serverErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrFileNotFound, serverErr)
	}
	return err
}
