/*
Copyright 2024 Stefan Prodan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fetcher downloads Flux source artifacts and prepares
// per-cycle workspaces holding the KCL module.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fluxcd/pkg/tar"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
	"github.com/evrone/kcl-controller/internal/source"
)

// Error is returned when an artifact can't be fetched or unpacked.
type Error struct {
	Err       error
	transient bool
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns the condition reason matching the failure.
func (e *Error) Reason() string {
	return apiv1.ArtifactFailedReason
}

// Transient reports whether retrying the fetch may succeed.
func (e *Error) Transient() bool {
	return e.transient
}

func transientError(err error) *Error {
	return &Error{Err: err, transient: true}
}

func permanentError(err error) *Error {
	return &Error{Err: err}
}

// Options holds the fetcher settings.
type Options struct {
	// StorageDir is the location where artifacts are cached.
	StorageDir string

	// SourceHost overrides the host of the artifact URLs,
	// used when running outside the cluster.
	SourceHost string

	// Retries is the number of times a failed download is retried.
	Retries int

	// RetryDelay is the initial delay between retries, doubled on each attempt.
	RetryDelay time.Duration

	// HTTPClient is the client used for downloads, defaults to a pooled client.
	HTTPClient *http.Client
}

// Fetcher downloads and caches source artifacts.
type Fetcher struct {
	opts   Options
	client *http.Client
	group  singleflight.Group
}

// New creates a fetcher for the given options.
func New(opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Fetcher{
		opts:   opts,
		client: client,
	}
}

// Fetch downloads the artifact of the given source, verifies its digest and
// extracts it to the storage dir. Extracted artifacts are cached per digest
// and concurrent requests for the same artifact share a single download.
// It returns the path to the extracted artifact.
func (f *Fetcher) Fetch(ctx context.Context, artifact *source.Artifact, namespace, name string) (string, error) {
	sourceDir := filepath.Join(f.opts.StorageDir, namespace, name)
	dir := filepath.Join(sourceDir, cacheKey(artifact))

	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return dir, nil
	}

	_, err, _ := f.group.Do(dir, func() (interface{}, error) {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return nil, nil
		}
		if err := f.download(ctx, artifact, sourceDir, dir); err != nil {
			return nil, err
		}
		f.removeStale(sourceDir, dir)
		return nil, nil
	})
	if err != nil {
		return "", err
	}

	return dir, nil
}

func (f *Fetcher) download(ctx context.Context, artifact *source.Artifact, sourceDir, dir string) error {
	artifactURL, err := f.artifactURL(artifact.URL)
	if err != nil {
		return permanentError(err)
	}

	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		return permanentError(fmt.Errorf("failed to create storage dir: %w", err))
	}

	tmpFile, err := os.CreateTemp(sourceDir, "artifact-*.tar.gz")
	if err != nil {
		return permanentError(fmt.Errorf("failed to create temp file: %w", err))
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	backoff := wait.Backoff{
		Duration: f.opts.RetryDelay,
		Factor:   2,
		Jitter:   0.1,
		Steps:    f.opts.Retries + 1,
	}
	err = retry.OnError(backoff, isRetriable, func() error {
		if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := tmpFile.Truncate(0); err != nil {
			return err
		}
		return f.get(ctx, artifactURL, tmpFile)
	})
	if err != nil {
		if ctx.Err() != nil || isRetriable(err) {
			return transientError(fmt.Errorf("failed to download artifact from %s: %w", artifactURL, err))
		}
		return permanentError(fmt.Errorf("failed to download artifact from %s: %w", artifactURL, err))
	}

	if err := verify(tmpFile, artifact.Digest); err != nil {
		return permanentError(err)
	}

	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return permanentError(err)
	}

	tmpDir, err := os.MkdirTemp(sourceDir, "extract-")
	if err != nil {
		return permanentError(fmt.Errorf("failed to create temp dir: %w", err))
	}
	if err := tar.Untar(tmpFile, tmpDir, tar.WithMaxUntarSize(-1)); err != nil {
		_ = os.RemoveAll(tmpDir)
		return permanentError(fmt.Errorf("failed to extract artifact: %w", err))
	}

	if err := os.Rename(tmpDir, dir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return permanentError(fmt.Errorf("failed to store artifact: %w", err))
	}

	return nil
}

func (f *Fetcher) get(ctx context.Context, artifactURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	return nil
}

func (f *Fetcher) artifactURL(in string) (string, error) {
	u, err := url.Parse(in)
	if err != nil {
		return "", fmt.Errorf("invalid artifact url '%s': %w", in, err)
	}
	if f.opts.SourceHost != "" {
		u.Host = f.opts.SourceHost
	}
	return u.String(), nil
}

// removeStale deletes the previously cached revisions of a source.
func (f *Fetcher) removeStale(sourceDir, current string) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		p := filepath.Join(sourceDir, entry.Name())
		if p == current || !entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), "extract-") {
			continue
		}
		_ = os.RemoveAll(p)
	}
}

func verify(r io.ReadSeeker, expected string) error {
	if expected == "" {
		return nil
	}

	d, err := digest.Parse(expected)
	if err != nil {
		return fmt.Errorf("invalid artifact digest '%s': %w", expected, err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}

	verifier := d.Verifier()
	if _, err := io.Copy(verifier, r); err != nil {
		return fmt.Errorf("failed to compute digest: %w", err)
	}
	if !verifier.Verified() {
		return fmt.Errorf("artifact digest mismatch, expected %s", expected)
	}

	return nil
}

func cacheKey(artifact *source.Artifact) string {
	if d, err := digest.Parse(artifact.Digest); err == nil {
		return d.Encoded()
	}
	return digest.FromString(artifact.Revision + artifact.URL).Encoded()
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.code)
}

func isRetriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusNotFound ||
			se.code == http.StatusTooManyRequests ||
			se.code >= http.StatusInternalServerError
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	var ue *url.Error
	return errors.As(err, &ue)
}
