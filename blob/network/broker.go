package network

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultCredentialPath is the endpoint that hands out upload credentials.
const DefaultCredentialPath = "/fileTokens"

// FileMeta describes the file a credential is requested for.
type FileMeta struct {
	Name     string
	CloudKey string
	MimeType string
	MetaData map[string]interface{}
	Digest   chunkuploader.Digest
	OwnerID  string
}

// Credential is the per-upload authorization returned by the data platform.
// Which fields are set depends on the storage backend behind it.
type Credential struct {
	ObjectID        string `json:"objectId"`
	URL             string `json:"url"`
	Token           string `json:"token"`
	Bucket          string `json:"bucket"`
	UploadURL       string `json:"upload_url"`
	Provider        string `json:"provider"`
	Key             string `json:"key"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

type credentialRequest struct {
	Name     string                 `json:"name"`
	Key      string                 `json:"key"`
	Type     string                 `json:"__type"`
	MimeType string                 `json:"mime_type"`
	MetaData map[string]interface{} `json:"metaData"`
}

// TokenBroker requests upload credentials for a file.
type TokenBroker struct {
	client apiClient
	path   string
}

// NewTokenBroker ...
func NewTokenBroker(client *retryablehttp.Client, params APIParams, credentialPath string, logger log.Logger) *TokenBroker {
	if credentialPath == "" {
		credentialPath = DefaultCredentialPath
	}
	return &TokenBroker{
		client: newAPIClient(client, params.BaseURL, params.headers(), logger),
		path:   credentialPath,
	}
}

// RequestCredential performs exactly one round-trip to obtain the credential for meta.
func (b *TokenBroker) RequestCredential(ctx context.Context, meta FileMeta) (Credential, error) {
	const op = "request credential"

	req, err := b.client.newJSONRequest(ctx, http.MethodPost, b.path, credentialRequest{
		Name:     meta.Name,
		Key:      meta.CloudKey,
		Type:     "File",
		MimeType: meta.MimeType,
		MetaData: BuildMetaData(meta),
	})
	if err != nil {
		return Credential{}, fmt.Errorf("create credential request: %w", err)
	}

	var credential Credential
	if err := b.client.executeJSON(op, req, &credential); err != nil {
		return Credential{}, err
	}

	return credential, nil
}

// BuildMetaData merges the caller's metadata with the computed file fields.
// Computed fields win over caller supplied ones with the same name.
func BuildMetaData(meta FileMeta) map[string]interface{} {
	metaData := make(map[string]interface{}, len(meta.MetaData)+4)
	for k, v := range meta.MetaData {
		metaData[k] = v
	}

	metaData["mime_type"] = meta.MimeType
	metaData["size"] = meta.Digest.Size
	metaData["_checksum"] = meta.Digest.MD5
	if meta.OwnerID != "" {
		metaData["owner"] = meta.OwnerID
	}

	return metaData
}
