package blob

import (
	"path/filepath"

	"github.com/bitrise-io/go-blobupload/blob/mimetype"
	"github.com/google/uuid"
)

// State describes one attachment and the progress of its transfer.
// A non-empty RemoteURL means the transfer is complete.
type State struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	// RemoteURL is set once the storage backend acknowledged the whole file.
	RemoteURL string `json:"url,omitempty"`
	// CloudKey is the unique object name in the storage backend. Once set it never changes.
	CloudKey string `json:"key,omitempty"`
	ObjectID string `json:"objectId,omitempty"`
	Bucket   string `json:"bucket,omitempty"`

	MetaData map[string]interface{} `json:"metaData,omitempty"`

	BytesCompleted int64    `json:"bytes_completed"`
	BlockContexts  []string `json:"block_contexts,omitempty"`
	Token          string   `json:"-"`
	Provider       string   `json:"provider,omitempty"`
}

// NewState creates the state of a file that is not uploaded yet.
// An empty mimeType is derived from the extension of name.
func NewState(name, mimeType string, metaData map[string]interface{}) State {
	if mimeType == "" {
		mimeType = mimetype.TypeByName(name)
	}
	return State{
		Name:     name,
		MimeType: mimeType,
		MetaData: copyMetaData(metaData),
	}
}

// IsUploaded ...
func (s State) IsUploaded() bool {
	return s.RemoteURL != ""
}

func (s State) clone() State {
	c := s
	c.MetaData = copyMetaData(s.MetaData)
	if s.BlockContexts != nil {
		c.BlockContexts = append([]string(nil), s.BlockContexts...)
	}
	return c
}

func copyMetaData(metaData map[string]interface{}) map[string]interface{} {
	if metaData == nil {
		return nil
	}
	c := make(map[string]interface{}, len(metaData))
	for k, v := range metaData {
		c[k] = v
	}
	return c
}

// uniqueCloudKey returns a random object name keeping the extension of name.
func uniqueCloudKey(name string) string {
	return uuid.NewString() + filepath.Ext(name)
}
