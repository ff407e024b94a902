// Package blob uploads file attachments to the storage backend chosen by the data platform.
package blob

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bitrise-io/go-blobupload/blob/mimetype"
	"github.com/bitrise-io/go-blobupload/blob/network"
	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrCancelled is returned when ctx is done before the upload finished.
var ErrCancelled = network.ErrCancelled

// ProgressSink receives upload progress values between 0 and 1.
type ProgressSink = chunkuploader.ProgressSink

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc = chunkuploader.ProgressFunc

// Uploader transfers files one request at a time.
// Progress reports of all uploads running on the same Uploader are serialized,
// so a sink shared between them is never called concurrently.
type Uploader struct {
	config     Config
	httpClient *retryablehttp.Client
	broker     *network.TokenBroker
	logger     log.Logger
	sinkMu     sync.Mutex
}

// NewUploader ...
func NewUploader(config Config, logger log.Logger) *Uploader {
	httpClient := network.NewHTTPClient(logger)
	return &Uploader{
		config:     config,
		httpClient: httpClient,
		broker:     network.NewTokenBroker(httpClient, config.apiParams(), config.CredentialPath, logger),
		logger:     logger,
	}
}

// Upload transfers the content of source and returns the completed state.
// An already uploaded state is returned as is without any request. On failure
// source is moved back to the position it had when Upload was called, and
// the returned state only differs from the input in its assigned CloudKey.
// The source is never closed.
func (u *Uploader) Upload(ctx context.Context, state State, source io.ReadSeeker, sink ProgressSink) (State, error) {
	if state.IsUploaded() {
		u.logger.Debugf("%s is already uploaded to %s", state.Name, state.RemoteURL)
		return state, nil
	}
	if err := ctx.Err(); err != nil {
		return state, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	position, err := source.Seek(0, io.SeekCurrent)
	if err != nil {
		return state, fmt.Errorf("get source position: %w", err)
	}

	if state.CloudKey == "" {
		state.CloudKey = uniqueCloudKey(state.Name)
	}

	uploaded, err := u.upload(ctx, state.clone(), source, sink)
	if err != nil {
		if _, seekErr := source.Seek(position, io.SeekStart); seekErr != nil {
			u.logger.Errorf("Failed to rewind source to position %d: %s", position, seekErr)
		} else {
			u.logger.Warnf("Upload of %s failed, source rewound to position %d", state.Name, position)
		}
		return state, err
	}

	return uploaded, nil
}

func (u *Uploader) upload(ctx context.Context, state State, source io.ReadSeeker, sink ProgressSink) (State, error) {
	u.logger.TDebugf("Upload start: %s", state.Name)
	defer u.logger.TDebugf("Upload done: %s", state.Name)

	if state.MimeType == "" {
		state.MimeType = mimetype.TypeByName(state.Name)
	}

	digest, err := chunkuploader.ComputeDigest(source)
	if err != nil {
		return State{}, fmt.Errorf("compute digest: %w", err)
	}
	reader, err := chunkuploader.NewRangeReader(source)
	if err != nil {
		return State{}, err
	}
	u.logger.TDebugf("Digest computed")

	meta := network.FileMeta{
		Name:     state.Name,
		CloudKey: state.CloudKey,
		MimeType: state.MimeType,
		MetaData: state.MetaData,
		Digest:   digest,
		OwnerID:  u.config.OwnerID,
	}
	credential, err := u.broker.RequestCredential(ctx, meta)
	if err != nil {
		return State{}, fmt.Errorf("request upload credential: %w", err)
	}
	if credential.URL == "" {
		return State{}, &network.ProtocolError{Op: "request credential", Field: "url"}
	}
	u.logger.TDebugf("Credential received")

	metaData := network.BuildMetaData(meta)
	strategy, err := network.NewStrategy(ctx, network.StrategyParams{
		Credential: credential,
		CloudKey:   state.CloudKey,
		MimeType:   state.MimeType,
		MetaData:   metaData,
		Digest:     digest,
		Reader:     reader,
		Reporter:   chunkuploader.NewProgressReporter(sink, &u.sinkMu),
		HTTPClient: u.httpClient,
		Logger:     u.logger,
	})
	if err != nil {
		return State{}, fmt.Errorf("select upload protocol: %w", err)
	}

	u.logger.Infof("Uploading %s (%s) with the %s protocol",
		state.Name, units.HumanSizeWithPrecision(float64(digest.Size), 3), strategy.Kind())
	startTime := time.Now()

	runner := chunkuploader.NewRunner(u.config.Chunks, u.logger)
	if err := runner.Drive(ctx, strategy); err != nil {
		return State{}, fmt.Errorf("upload %s: %w", state.Name, err)
	}

	progress := strategy.Progress()
	state.MetaData = metaData
	state.ObjectID = progress.ObjectID
	state.Bucket = credential.Bucket
	state.Token = credential.Token
	state.Provider = string(strategy.Kind())
	state.BytesCompleted = progress.BytesCompleted
	state.BlockContexts = append([]string(nil), progress.BlockContexts...)
	state.RemoteURL = progress.RemoteURL

	stats := runner.Stats()
	u.logger.Donef("Uploaded %s (%s sent) in %s, %d requests took %s",
		state.Name, units.BytesSize(float64(stats.BytesSent())), time.Since(startTime).Round(time.Millisecond),
		stats.RequestCount(), stats.TotalDuration().Round(time.Millisecond))
	return state, nil
}
