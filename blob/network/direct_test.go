package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putRecorder struct {
	mu          sync.Mutex
	method      string
	path        string
	contentType string
	body        []byte
	calls       int
	status      int
}

func (p *putRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.method = r.Method
	p.path = r.URL.Path
	p.contentType = r.Header.Get("Content-Type")
	p.body, _ = io.ReadAll(r.Body)

	if p.status != 0 {
		w.WriteHeader(p.status)
		_, _ = w.Write([]byte("<Error><Code>AccessDenied</Code><Message>denied</Message></Error>"))
		return
	}
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func TestDirectStrategy_Presigned(t *testing.T) {
	recorder := &putRecorder{}
	server := httptest.NewServer(recorder)
	defer server.Close()

	content := testContent(3 * mib)
	credential := Credential{
		ObjectID:  "object-3",
		URL:       "https://files.example.com/cloud-key.bin",
		Provider:  "s3",
		UploadURL: server.URL + "/presigned/cloud-key.bin?X-Amz-Signature=abc",
	}
	sink := &progressRecorder{}
	strategy, stats, err := drive(t, newTestParams(t, credential, content, sink))
	require.NoError(t, err)

	assert.Equal(t, KindDirect, strategy.Kind())
	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, http.MethodPut, recorder.method)
	assert.Equal(t, "/presigned/cloud-key.bin", recorder.path)
	assert.Equal(t, "application/octet-stream", recorder.contentType)
	assert.Equal(t, content, recorder.body)
	assert.Equal(t, int64(len(content)), stats.BytesSent())

	progress := strategy.Progress()
	assert.True(t, progress.Complete)
	assert.Equal(t, int64(len(content)), progress.BytesCompleted)
	assert.Equal(t, "https://files.example.com/cloud-key.bin", progress.RemoteURL)
	assert.Equal(t, []float64{0, 1}, sink.recorded())
}

func TestDirectStrategy_PresignedRejected(t *testing.T) {
	recorder := &putRecorder{status: http.StatusForbidden}
	server := httptest.NewServer(recorder)
	defer server.Close()

	credential := Credential{Provider: "s3", UploadURL: server.URL + "/presigned"}
	strategy, _, err := drive(t, newTestParams(t, credential, testContent(10), nil))

	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, http.StatusForbidden, serverErr.StatusCode)
	assert.False(t, strategy.IsComplete())
}

func TestDirectStrategy_S3(t *testing.T) {
	recorder := &putRecorder{}
	server := httptest.NewServer(recorder)
	defer server.Close()

	content := testContent(1024)
	credential := Credential{
		ObjectID:        "object-4",
		URL:             "https://bucket.s3.amazonaws.com/uploads/cloud-key.bin",
		Provider:        "s3",
		Bucket:          "bucket",
		Key:             "uploads/cloud-key.bin",
		Region:          "us-east-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "session",
		UploadURL:       server.URL,
	}
	strategy, _, err := drive(t, newTestParams(t, credential, content, nil))
	require.NoError(t, err)

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, http.MethodPut, recorder.method)
	assert.Equal(t, "/bucket/uploads/cloud-key.bin", recorder.path)
	assert.Equal(t, content, recorder.body)
	assert.True(t, strategy.IsComplete())
	assert.Equal(t, credential.URL, strategy.Progress().RemoteURL)
}

func TestDirectStrategy_S3Rejected(t *testing.T) {
	recorder := &putRecorder{status: http.StatusForbidden}
	server := httptest.NewServer(recorder)
	defer server.Close()

	credential := Credential{
		Bucket:          "bucket",
		Region:          "us-east-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		UploadURL:       server.URL,
	}
	_, _, err := drive(t, newTestParams(t, credential, testContent(10), nil))

	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, http.StatusForbidden, serverErr.StatusCode)
	assert.True(t, strings.HasPrefix(serverErr.Message, "AccessDenied"), serverErr.Message)
}

func TestNewDirectStrategy_InvalidCredential(t *testing.T) {
	tests := []struct {
		name       string
		credential Credential
	}{
		{
			name:       "s3 without region",
			credential: Credential{AccessKeyID: "id", SecretAccessKey: "secret", Bucket: "bucket"},
		},
		{
			name:       "s3 without bucket",
			credential: Credential{AccessKeyID: "id", SecretAccessKey: "secret", Region: "us-east-1"},
		},
		{
			name:       "s3 provider without upload url or keys",
			credential: Credential{Provider: "s3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := newTestParams(t, tt.credential, testContent(1), nil)
			_, err := NewStrategy(context.Background(), params)
			require.Error(t, err)
		})
	}
}

func TestLoadAWSConfig(t *testing.T) {
	credential := Credential{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDTEMP",
		SecretAccessKey: "secret",
		SessionToken:    "session",
	}

	cfg, err := loadAWSConfig(context.Background(), credential)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, 1, cfg.RetryMaxAttempts)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDTEMP", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
	assert.Equal(t, "session", creds.SessionToken)
}

func TestLoadAWSConfig_KeepsErrorChain(t *testing.T) {
	errBroken := errors.New("broken option")
	credential := Credential{Region: "eu-west-1", AccessKeyID: "id", SecretAccessKey: "secret"}

	_, err := loadAWSConfig(context.Background(), credential, func(*config.LoadOptions) error {
		return errBroken
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBroken))
	assert.EqualError(t, err, "load aws config: broken option")
}
