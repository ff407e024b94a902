package network

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
)

type sliceData struct {
	Session   string `json:"session"`
	Offset    *int64 `json:"offset"`
	AccessURL string `json:"access_url"`
}

type sliceResponse struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    sliceData `json:"data"`
}

type formField struct {
	name  string
	value string
}

// sliceStrategy uploads through a server-side session. Small files go in a
// single request; larger ones open a session and send 512 KiB slices at the
// offset the server confirmed last.
type sliceStrategy struct {
	client   apiClient
	reader   *chunkuploader.RangeReader
	reporter *chunkuploader.ProgressReporter
	logger   log.Logger

	credential Credential
	cloudKey   string
	sha1       string
	total      int64

	progress  Progress
	started   bool
	session   string
	sliceSize int64
}

func newSliceStrategy(params StrategyParams) *sliceStrategy {
	headers := map[string]string{
		"Authorization": params.Credential.Token,
	}

	return &sliceStrategy{
		client:     newAPIClient(params.HTTPClient, params.Credential.UploadURL, headers, params.Logger),
		reader:     params.Reader,
		reporter:   params.Reporter,
		logger:     params.Logger,
		credential: params.Credential,
		cloudKey:   params.CloudKey,
		sha1:       params.Digest.SHA1,
		total:      params.Reader.Size(),
		progress:   Progress{ObjectID: params.Credential.ObjectID},
		sliceSize:  chunkuploader.SliceSize,
	}
}

func (s *sliceStrategy) Kind() Kind {
	return KindSessionSlice
}

func (s *sliceStrategy) Progress() Progress {
	return s.progress
}

func (s *sliceStrategy) IsComplete() bool {
	return s.progress.Complete
}

func (s *sliceStrategy) UploadNextChunk(ctx context.Context) (int64, error) {
	s.reporter.Report(s.progress.BytesCompleted, s.total)

	if !s.started {
		if s.total <= s.sliceSize {
			return s.uploadWhole(ctx)
		}
		return 0, s.openSession(ctx)
	}
	return s.uploadSlice(ctx)
}

func (s *sliceStrategy) uploadWhole(ctx context.Context) (int64, error) {
	const op = "upload file"

	content, err := s.reader.ReadRange(0, s.total)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	if _, err := s.post(ctx, op, []formField{
		{name: "op", value: "upload"},
		{name: "sha", value: s.sha1},
	}, content); err != nil {
		return 0, err
	}

	s.started = true
	s.complete()
	return int64(len(content)), nil
}

func (s *sliceStrategy) openSession(ctx context.Context) error {
	const op = "open slice session"

	data, err := s.post(ctx, op, []formField{
		{name: "op", value: "upload_slice"},
		{name: "filesize", value: strconv.FormatInt(s.total, 10)},
		{name: "sha", value: s.sha1},
		{name: "slice_size", value: strconv.FormatInt(s.sliceSize, 10)},
	}, nil)
	if err != nil {
		return err
	}

	s.started = true
	if data.AccessURL != "" {
		s.logger.Debugf("Slice session for %s completed instantly", s.cloudKey)
		s.complete()
		return nil
	}
	if data.Session == "" {
		return &ProtocolError{Op: op, Field: "data.session"}
	}

	var offset int64
	if data.Offset != nil {
		offset = *data.Offset
	}
	if offset < 0 || offset > s.total {
		return &ProtocolError{Op: op, Field: "data.offset"}
	}

	s.session = data.Session
	s.progress = s.progress.advance(offset)
	if offset == s.total {
		s.complete()
	}
	return nil
}

func (s *sliceStrategy) uploadSlice(ctx context.Context) (int64, error) {
	const op = "upload slice"

	offset := s.progress.BytesCompleted
	slice, err := s.reader.ReadRange(offset, s.sliceSize)
	if err != nil {
		return 0, fmt.Errorf("read slice at %d: %w", offset, err)
	}

	data, err := s.post(ctx, op, []formField{
		{name: "op", value: "upload_slice"},
		{name: "session", value: s.session},
		{name: "offset", value: strconv.FormatInt(offset, 10)},
	}, slice)
	if err != nil {
		return 0, err
	}

	sent := int64(len(slice))
	if data.AccessURL != "" {
		s.progress = s.progress.advance(sent)
		s.complete()
		return sent, nil
	}

	next := offset + sent
	if data.Offset != nil {
		next = *data.Offset
	}
	if next <= offset || next > s.total {
		return 0, &ProtocolError{Op: op, Field: "data.offset"}
	}
	if data.Session != "" {
		s.session = data.Session
	}

	s.progress = s.progress.advance(next - offset)
	if next == s.total {
		s.complete()
	}
	return sent, nil
}

func (s *sliceStrategy) complete() {
	s.progress = s.progress.completed(s.total, s.credential.URL, "")
	s.reporter.Report(s.total, s.total)
}

// post sends a multipart form with the given fields and, if content is not nil,
// a fileContent part named after the cloud key.
func (s *sliceStrategy) post(ctx context.Context, op string, fields []formField, content []byte) (sliceData, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, field := range fields {
		if err := writer.WriteField(field.name, field.value); err != nil {
			return sliceData{}, fmt.Errorf("write form field %s: %w", field.name, err)
		}
	}
	if content != nil {
		part, err := writer.CreateFormFile("fileContent", s.cloudKey)
		if err != nil {
			return sliceData{}, fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(content); err != nil {
			return sliceData{}, fmt.Errorf("write file part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return sliceData{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := s.client.newRequest(ctx, http.MethodPost, "", body.Bytes(), writer.FormDataContentType())
	if err != nil {
		return sliceData{}, fmt.Errorf("create %s request: %w", op, err)
	}

	var response sliceResponse
	if err := s.client.executeJSON(op, req, &response); err != nil {
		return sliceData{}, err
	}
	if response.Code != 0 {
		return sliceData{}, &ServerError{
			Op:         op,
			StatusCode: http.StatusOK,
			Code:       response.Code,
			Message:    response.Message,
		}
	}

	return response.Data, nil
}
