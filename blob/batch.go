package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

// BatchResult is the outcome of uploading one file of a batch.
type BatchResult struct {
	Path  string
	State State
	Err   error
}

// BatchUploader uploads many files with a bounded number of parallel uploads.
type BatchUploader struct {
	uploader     *Uploader
	concurrency  int
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	logger       log.Logger
}

// NewBatchUploader ...
func NewBatchUploader(uploader *Uploader, concurrency int, logger log.Logger) *BatchUploader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchUploader{
		uploader:     uploader,
		concurrency:  concurrency,
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
		logger:       logger,
	}
}

// UploadPaths uploads every regular file matched by patterns.
// sink receives the combined progress of the whole batch, weighted by file size.
// The returned error is only set when the patterns could not be evaluated;
// per-file failures are reported in the results.
func (b *BatchUploader) UploadPaths(ctx context.Context, patterns []string, metaData map[string]interface{}, sink ProgressSink) ([]BatchResult, error) {
	paths, err := b.ExpandPaths(patterns)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files matched: %s", strings.Join(patterns, ", "))
	}

	sizes := make([]int64, len(paths))
	for i, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		sizes[i] = info.Size()
	}
	progress := newBatchProgress(sizes, sink)

	results := make([]BatchResult, len(paths))
	semaphore := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func(index int, path string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			state, err := b.uploadFile(ctx, path, metaData, progress.sink(index))
			results[index] = BatchResult{Path: path, State: state, Err: err}
		}(i, path)
	}
	wg.Wait()

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			b.logger.Warnf("Failed to upload %s: %s", result.Path, result.Err)
		}
	}
	b.logger.Donef("Uploaded %d of %d file(s)", len(results)-failed, len(results))

	return results, nil
}

func (b *BatchUploader) uploadFile(ctx context.Context, path string, metaData map[string]interface{}, sink ProgressSink) (State, error) {
	file, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("open file: %w", err)
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			b.logger.Errorf("failed to close file: %s", err)
		}
	}(file)

	state := NewState(filepath.Base(path), "", metaData)
	return b.uploader.Upload(ctx, state, file, sink)
}

// ExpandPaths resolves glob patterns (including **) to the absolute paths of
// existing regular files, without duplicates.
func (b *BatchUploader) ExpandPaths(patterns []string) ([]string, error) {
	var expandedPaths []string
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			expandedPaths = append(expandedPaths, pattern)
			continue
		}

		base, relPattern := doublestar.SplitPattern(pattern)
		absBase, err := b.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), relPattern, doublestar.WithNoFollow(), doublestar.WithFilesOnly())
		if err != nil {
			b.logger.Warnf("Error in path pattern '%s': %s", pattern, err)
			continue
		}
		if len(matches) == 0 {
			b.logger.Warnf("No match for path pattern: %s", pattern)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	var finalPaths []string
	seen := map[string]bool{}
	for _, path := range expandedPaths {
		absPath, err := b.pathModifier.AbsPath(path)
		if err != nil {
			b.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}

		exists, err := b.pathChecker.IsPathExists(absPath)
		if err != nil {
			b.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
			continue
		}
		if !exists {
			b.logger.Warnf("Path %s does not exist", absPath)
			continue
		}

		info, err := os.Stat(absPath)
		if err != nil || !info.Mode().IsRegular() {
			b.logger.Warnf("Skipping %s: not a regular file", absPath)
			continue
		}

		if seen[absPath] {
			continue
		}
		seen[absPath] = true
		finalPaths = append(finalPaths, absPath)
	}

	return finalPaths, nil
}

// batchProgress combines the progress of several uploads into one value.
type batchProgress struct {
	mu        sync.Mutex
	sizes     []int64
	fractions []float64
	total     int64
	target    ProgressSink
}

func newBatchProgress(sizes []int64, target ProgressSink) *batchProgress {
	var total int64
	for _, size := range sizes {
		total += size
	}
	return &batchProgress{
		sizes:     sizes,
		fractions: make([]float64, len(sizes)),
		total:     total,
		target:    target,
	}
}

func (p *batchProgress) sink(index int) ProgressSink {
	if p.target == nil {
		return nil
	}
	return ProgressFunc(func(progress float64) {
		p.report(index, progress)
	})
}

func (p *batchProgress) report(index int, progress float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fractions[index] = progress

	var combined float64
	if p.total == 0 {
		for _, fraction := range p.fractions {
			combined += fraction
		}
		combined /= float64(len(p.fractions))
	} else {
		for i, fraction := range p.fractions {
			combined += fraction * float64(p.sizes[i])
		}
		combined /= float64(p.total)
	}

	p.target.Report(chunkuploader.Round3(combined))
}
