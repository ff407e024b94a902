package blob

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-blobupload/blob/network"
	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/env"
)

// Environment variables read by NewConfig.
const (
	APIURLEnvKey           = "BLOBUPLOAD_API_URL"
	AppIDEnvKey            = "BLOBUPLOAD_APP_ID"
	AppKeyEnvKey           = "BLOBUPLOAD_APP_KEY"
	SessionTokenEnvKey     = "BLOBUPLOAD_SESSION_TOKEN"
	OwnerIDEnvKey          = "BLOBUPLOAD_OWNER_ID"
	CredentialPathEnvKey   = "BLOBUPLOAD_CREDENTIAL_PATH"
	MaxRetryPerChunkEnvKey = "BLOBUPLOAD_MAX_RETRY_PER_CHUNK"
	ConcurrencyEnvKey      = "BLOBUPLOAD_CONCURRENCY"
)

// DefaultConcurrency is the number of files a BatchUploader sends at the same time.
const DefaultConcurrency = 3

// Secret is a string that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Config ...
type Config struct {
	APIBaseURL     string
	AppID          string
	AppKey         Secret
	SessionToken   Secret
	OwnerID        string
	CredentialPath string
	Concurrency    int
	Chunks         chunkuploader.Config
}

// NewConfig reads the configuration from the environment.
func NewConfig(envRepo env.Repository) (Config, error) {
	apiBaseURL := strings.TrimSpace(envRepo.Get(APIURLEnvKey))
	if apiBaseURL == "" {
		return Config{}, fmt.Errorf("the variable '%s' is not defined", APIURLEnvKey)
	}

	config := Config{
		APIBaseURL:     apiBaseURL,
		AppID:          envRepo.Get(AppIDEnvKey),
		AppKey:         Secret(envRepo.Get(AppKeyEnvKey)),
		SessionToken:   Secret(envRepo.Get(SessionTokenEnvKey)),
		OwnerID:        envRepo.Get(OwnerIDEnvKey),
		CredentialPath: envRepo.Get(CredentialPathEnvKey),
		Concurrency:    DefaultConcurrency,
		Chunks:         chunkuploader.DefaultConfig(),
	}
	if config.CredentialPath == "" {
		config.CredentialPath = network.DefaultCredentialPath
	}

	if value := envRepo.Get(MaxRetryPerChunkEnvKey); value != "" {
		retries, err := strconv.Atoi(value)
		if err != nil || retries < 0 {
			return Config{}, fmt.Errorf("the variable '%s' should be a non-negative integer, got: %s", MaxRetryPerChunkEnvKey, value)
		}
		config.Chunks.MaxRetryPerChunk = retries
	}

	if value := envRepo.Get(ConcurrencyEnvKey); value != "" {
		concurrency, err := strconv.Atoi(value)
		if err != nil || concurrency < 1 {
			return Config{}, fmt.Errorf("the variable '%s' should be a positive integer, got: %s", ConcurrencyEnvKey, value)
		}
		config.Concurrency = concurrency
	}

	return config, nil
}

func (c Config) apiParams() network.APIParams {
	return network.APIParams{
		BaseURL:      c.APIBaseURL,
		AppID:        c.AppID,
		AppKey:       string(c.AppKey),
		SessionToken: string(c.SessionToken),
	}
}
