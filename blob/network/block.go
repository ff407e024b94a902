package network

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBlockHost is the block/chunk upload host used when the credential names none.
const DefaultBlockHost = "https://up.qbox.me"

type blockResponse struct {
	Ctx    string `json:"ctx"`
	Offset *int64 `json:"offset"`
}

type makeFileResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// blockStrategy uploads in 4 MiB blocks of 1 MiB chunks. A block is opened by
// mkblk with its first chunk, continued by bput calls, and the file is
// assembled by mkfile from the contexts of the finished blocks.
type blockStrategy struct {
	client   apiClient
	reader   *chunkuploader.RangeReader
	reporter *chunkuploader.ProgressReporter
	logger   log.Logger

	credential Credential
	cloudKey   string
	metaData   map[string]interface{}
	total      int64

	progress Progress
	// Last server-echoed context and offset inside the open block.
	lastCtx    string
	lastOffset int64
}

func newBlockStrategy(params StrategyParams) *blockStrategy {
	host := DefaultBlockHost
	if params.Credential.UploadURL != "" {
		host = params.Credential.UploadURL
	}
	headers := map[string]string{
		"Authorization": "UpToken " + params.Credential.Token,
	}

	return &blockStrategy{
		client:     newAPIClient(params.HTTPClient, host, headers, params.Logger),
		reader:     params.Reader,
		reporter:   params.Reporter,
		logger:     params.Logger,
		credential: params.Credential,
		cloudKey:   params.CloudKey,
		metaData:   params.MetaData,
		total:      params.Reader.Size(),
		progress:   Progress{ObjectID: params.Credential.ObjectID},
	}
}

func (s *blockStrategy) Kind() Kind {
	return KindBlockChunk
}

func (s *blockStrategy) Progress() Progress {
	return s.progress
}

func (s *blockStrategy) IsComplete() bool {
	return s.progress.Complete
}

func (s *blockStrategy) UploadNextChunk(ctx context.Context) (int64, error) {
	completed := s.progress.BytesCompleted
	s.reporter.Report(completed, s.total)

	switch {
	case completed == s.total:
		return 0, s.makeFile(ctx)
	case completed%chunkuploader.BlockSize == 0:
		return s.makeBlock(ctx, completed)
	default:
		return s.putChunk(ctx, completed)
	}
}

func (s *blockStrategy) makeBlock(ctx context.Context, completed int64) (int64, error) {
	const op = "make block"

	blockSize := chunkuploader.NextChunkSize(s.total-completed, chunkuploader.BlockSize)
	chunk, err := s.reader.ReadRange(completed, chunkuploader.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("read first chunk of block at %d: %w", completed, err)
	}

	req, err := s.client.newRequest(ctx, http.MethodPost, fmt.Sprintf("mkblk/%d", blockSize), chunk, "application/octet-stream")
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", op, err)
	}

	if err := s.send(op, req, int64(len(chunk))); err != nil {
		return 0, err
	}
	return int64(len(chunk)), nil
}

func (s *blockStrategy) putChunk(ctx context.Context, completed int64) (int64, error) {
	const op = "put chunk"

	chunk, err := s.reader.ReadRange(completed, chunkuploader.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("read chunk at %d: %w", completed, err)
	}

	path := fmt.Sprintf("bput/%s/%d", s.lastCtx, s.lastOffset)
	req, err := s.client.newRequest(ctx, http.MethodPost, path, chunk, "application/octet-stream")
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", op, err)
	}

	if err := s.send(op, req, int64(len(chunk))); err != nil {
		return 0, err
	}
	return int64(len(chunk)), nil
}

// send issues a mkblk or bput request and records the acknowledged chunk.
func (s *blockStrategy) send(op string, req *retryablehttp.Request, sent int64) error {
	var response blockResponse
	if err := s.client.executeJSON(op, req, &response); err != nil {
		return err
	}
	if response.Ctx == "" {
		return &ProtocolError{Op: op, Field: "ctx"}
	}
	if response.Offset == nil {
		return &ProtocolError{Op: op, Field: "offset"}
	}

	next := s.progress.advance(sent)
	if next.BytesCompleted%chunkuploader.BlockSize == 0 || next.BytesCompleted == s.total {
		next = next.withContext(response.Ctx)
	}

	s.progress = next
	s.lastCtx = response.Ctx
	s.lastOffset = *response.Offset
	return nil
}

func (s *blockStrategy) makeFile(ctx context.Context) error {
	const op = "make file"

	body := []byte(strings.Join(s.progress.BlockContexts, ","))
	req, err := s.client.newRequest(ctx, http.MethodPost, makeFilePath(s.total, s.cloudKey, s.metaData), body, "text/plain")
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}

	var response makeFileResponse
	if err := s.client.executeJSON(op, req, &response); err != nil {
		return err
	}

	remoteURL := s.credential.URL
	if response.URL != "" {
		remoteURL = response.URL
	}
	s.progress = s.progress.completed(s.total, remoteURL, "")
	s.logger.Debugf("File assembled from %d block(s) as %s", len(s.progress.BlockContexts), s.cloudKey)
	return nil
}

// makeFilePath builds mkfile/<size>/key/<b64 key>[/<meta key>/<b64 value>]*,
// with metadata keys in sorted order.
func makeFilePath(size int64, key string, metaData map[string]interface{}) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mkfile/%d", size)
	if key != "" {
		fmt.Fprintf(&sb, "/key/%s", urlSafeBase64(key))
	}

	keys := make([]string, 0, len(metaData))
	for k := range metaData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(&sb, "/%s/%s", url.PathEscape(k), urlSafeBase64(fmt.Sprint(metaData[k])))
	}

	return sb.String()
}

// urlSafeBase64 encodes s with the URL-safe alphabet, keeping the padding.
func urlSafeBase64(s string) string {
	if s == "" {
		return ""
	}
	return base64.URLEncoding.EncodeToString([]byte(s))
}
