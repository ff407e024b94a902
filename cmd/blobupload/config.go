package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/bitrise-io/go-blobupload/blob"
	"github.com/bitrise-io/go-utils/v2/env"
)

// fileConfig is the content of the optional TOML config file.
type fileConfig struct {
	APIURL           string `toml:"api_url"`
	AppID            string `toml:"app_id"`
	AppKey           string `toml:"app_key"`
	SessionToken     string `toml:"session_token"`
	OwnerID          string `toml:"owner_id"`
	CredentialPath   string `toml:"credential_path"`
	MaxRetryPerChunk *int   `toml:"max_retry_per_chunk"`
	Concurrency      *int   `toml:"concurrency"`
}

func (c fileConfig) envVars() map[string]string {
	envVars := map[string]string{
		blob.APIURLEnvKey:         c.APIURL,
		blob.AppIDEnvKey:          c.AppID,
		blob.AppKeyEnvKey:         c.AppKey,
		blob.SessionTokenEnvKey:   c.SessionToken,
		blob.OwnerIDEnvKey:        c.OwnerID,
		blob.CredentialPathEnvKey: c.CredentialPath,
	}
	if c.MaxRetryPerChunk != nil {
		envVars[blob.MaxRetryPerChunkEnvKey] = strconv.Itoa(*c.MaxRetryPerChunk)
	}
	if c.Concurrency != nil {
		envVars[blob.ConcurrencyEnvKey] = strconv.Itoa(*c.Concurrency)
	}
	return envVars
}

// layeredRepository reads from the environment first and falls back to the
// values of the config file.
type layeredRepository struct {
	env.Repository
	fallback map[string]string
}

func (r layeredRepository) Get(key string) string {
	if value := r.Repository.Get(key); value != "" {
		return value
	}
	return r.fallback[key]
}

// loadConfig builds the upload configuration from the config file at path
// (skipped when empty) overridden by the environment.
func loadConfig(path string, envRepo env.Repository) (blob.Config, error) {
	var file fileConfig
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return blob.Config{}, fmt.Errorf("config file: %w", err)
		}
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return blob.Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	return blob.NewConfig(layeredRepository{Repository: envRepo, fallback: file.envVars()})
}
