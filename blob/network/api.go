package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// APIParams identifies the application and the signed-in user on the data platform.
type APIParams struct {
	BaseURL      string
	AppID        string
	AppKey       string
	SessionToken string
}

func (p APIParams) headers() map[string]string {
	headers := map[string]string{
		"X-LC-Id":  p.AppID,
		"X-LC-Key": p.AppKey,
	}
	if p.SessionToken != "" {
		headers["X-LC-Session"] = p.SessionToken
	}
	return headers
}

// NewHTTPClient creates the client used for every request of the engine.
// Failed requests are never repeated by the client itself and every response,
// including 5xx ones, is handed back to the caller.
func NewHTTPClient(logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.HTTPClient = chunkuploader.DefaultHTTPClient()
	client.RetryMax = 0
	client.CheckRetry = createNoRetryFunction(logger)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

func createNoRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, requestErr error) (bool, error) {
		if requestErr != nil {
			logger.Debugf("CheckRetry: retry=false ; requestErr=%+v", requestErr)
		}
		return false, nil
	}
}

type errorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type apiClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
	headers    map[string]string
	logger     log.Logger
}

func newAPIClient(client *retryablehttp.Client, baseURL string, headers map[string]string, logger log.Logger) apiClient {
	return apiClient{
		httpClient: client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		headers:    headers,
		logger:     logger,
	}
}

// newRequest builds a request against baseURL + path. The request does not
// inherit the cancellation of ctx: once sent, it always runs to completion.
func (c apiClient) newRequest(ctx context.Context, method, path string, body []byte, contentType string) (*retryablehttp.Request, error) {
	url := c.baseURL
	if path != "" {
		url = c.baseURL + "/" + strings.TrimPrefix(path, "/")
	}

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(context.WithoutCancel(ctx), method, url, rawBody)
	if err != nil {
		return nil, err
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	return req, nil
}

func (c apiClient) newJSONRequest(ctx context.Context, method, path string, requestBody interface{}) (*retryablehttp.Request, error) {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}
	return c.newRequest(ctx, method, path, body, "application/json")
}

// execute sends req and returns the body of a 2xx response.
func (c apiClient) execute(op string, req *retryablehttp.Request) ([]byte, error) {
	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("%s request dump: %s", op, string(dump))

	resp, err := c.httpClient.Do(req)
	if resp == nil {
		if err == nil {
			err = errors.New("no response received")
		}
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf("%s", err)
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}

	dump, err = httputil.DumpResponse(resp, false)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s response dump: %s%s", op, string(dump), string(body))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, unwrapError(op, resp.StatusCode, body)
	}

	return body, nil
}

// executeJSON sends req and decodes the body of a 2xx response into response.
func (c apiClient) executeJSON(op string, req *retryablehttp.Request, response interface{}) error {
	body, err := c.execute(op, req)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &ProtocolError{Op: op, Field: "response body"}
	}
	if err := json.Unmarshal(body, response); err != nil {
		return &ProtocolError{Op: op, Field: "response body", Err: err}
	}
	return nil
}

func unwrapError(op string, statusCode int, body []byte) *ServerError {
	serverErr := &ServerError{
		Op:         op,
		StatusCode: statusCode,
		Message:    strings.TrimSpace(string(body)),
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		serverErr.Code = errResp.Code
		switch {
		case errResp.Error != "":
			serverErr.Message = errResp.Error
		case errResp.Message != "":
			serverErr.Message = errResp.Message
		}
	}

	return serverErr
}
