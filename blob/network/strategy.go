package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// Kind names an upload protocol.
type Kind string

// Upload protocols.
const (
	KindDirect       Kind = "direct"
	KindBlockChunk   Kind = "block_chunk"
	KindSessionSlice Kind = "session_slice"
)

// Progress is the acknowledged state of a transfer.
// Strategies replace their Progress after every acknowledged request instead of
// mutating it, so a returned value is never changed afterwards.
type Progress struct {
	BytesCompleted int64
	BlockContexts  []string
	RemoteURL      string
	ObjectID       string
	Complete       bool
}

func (p Progress) advance(n int64) Progress {
	next := p
	next.BytesCompleted += n
	return next
}

func (p Progress) withContext(blockContext string) Progress {
	next := p
	next.BlockContexts = make([]string, len(p.BlockContexts), len(p.BlockContexts)+1)
	copy(next.BlockContexts, p.BlockContexts)
	next.BlockContexts = append(next.BlockContexts, blockContext)
	return next
}

func (p Progress) completed(bytes int64, remoteURL, objectID string) Progress {
	next := p
	next.BytesCompleted = bytes
	next.RemoteURL = remoteURL
	if objectID != "" {
		next.ObjectID = objectID
	}
	next.Complete = true
	return next
}

// Strategy is a provider-specific upload state machine.
type Strategy interface {
	chunkuploader.Stepper
	Kind() Kind
	Progress() Progress
}

// StrategyParams holds everything a strategy needs for one transfer.
type StrategyParams struct {
	Credential Credential
	CloudKey   string
	MimeType   string
	MetaData   map[string]interface{}
	Digest     chunkuploader.Digest
	Reader     *chunkuploader.RangeReader
	Reporter   *chunkuploader.ProgressReporter
	HTTPClient *retryablehttp.Client
	Logger     log.Logger
}

// SelectKind picks the upload protocol for a credential.
// The provider field decides when present; otherwise the shape of the credential does.
func SelectKind(credential Credential) (Kind, error) {
	switch strings.ToLower(credential.Provider) {
	case "qiniu":
		return KindBlockChunk, nil
	case "qcloud", "cos":
		return KindSessionSlice, nil
	case "s3", "aws":
		return KindDirect, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported storage provider: %s", credential.Provider)
	}

	switch {
	case credential.AccessKeyID != "" && credential.SecretAccessKey != "":
		return KindDirect, nil
	case credential.Token != "" && credential.UploadURL == "":
		return KindBlockChunk, nil
	case credential.Token != "" && credential.UploadURL != "":
		return KindSessionSlice, nil
	case credential.UploadURL != "":
		return KindDirect, nil
	default:
		return "", fmt.Errorf("credential has neither token, upload_url nor access keys")
	}
}

// NewStrategy creates the strategy selected by the credential.
func NewStrategy(ctx context.Context, params StrategyParams) (Strategy, error) {
	kind, err := SelectKind(params.Credential)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindBlockChunk:
		return newBlockStrategy(params), nil
	case KindSessionSlice:
		return newSliceStrategy(params), nil
	default:
		return newDirectStrategy(ctx, params)
	}
}
