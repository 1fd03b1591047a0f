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

package fetcher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/opencontainers/go-digest"

	"github.com/evrone/kcl-controller/internal/source"
)

func buildArtifact(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type artifactServer struct {
	*httptest.Server
	hits     atomic.Int32
	failures atomic.Int32
}

func newArtifactServer(t *testing.T, blobs map[string][]byte) *artifactServer {
	s := &artifactServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.failures.Load() > 0 {
			s.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		blob, ok := blobs[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(blob)
	}))
	t.Cleanup(s.Close)
	return s
}

func testArtifact(server, path string, blob []byte, revision string) *source.Artifact {
	return &source.Artifact{
		Revision: revision,
		URL:      server + path,
		Digest:   digest.FromBytes(blob).String(),
	}
}

func TestFetch(t *testing.T) {
	g := NewWithT(t)

	blob := buildArtifact(t, map[string]string{
		"app/main.k":  "name = option(\"name\")",
		"app/kcl.mod": "[package]\nname = \"app\"",
	})
	srv := newArtifactServer(t, map[string][]byte{"/repo.tar.gz": blob})

	f := New(Options{StorageDir: t.TempDir(), RetryDelay: time.Millisecond})
	artifact := testArtifact(srv.URL, "/repo.tar.gz", blob, "main@sha1:1")

	dir, err := f.Fetch(context.Background(), artifact, "flux-system", "repo")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(filepath.Join(dir, "app", "main.k")).To(BeAnExistingFile())

	again, err := f.Fetch(context.Background(), artifact, "flux-system", "repo")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(again).To(Equal(dir))
	g.Expect(srv.hits.Load()).To(BeEquivalentTo(1))
}

func TestFetch_ConcurrentCallsShareDownload(t *testing.T) {
	g := NewWithT(t)

	blob := buildArtifact(t, map[string]string{"main.k": "a = 1"})
	srv := newArtifactServer(t, map[string][]byte{"/repo.tar.gz": blob})

	f := New(Options{StorageDir: t.TempDir()})
	artifact := testArtifact(srv.URL, "/repo.tar.gz", blob, "main@sha1:1")

	var wg sync.WaitGroup
	dirs := make([]string, 5)
	for i := range dirs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dirs[i], _ = f.Fetch(context.Background(), artifact, "flux-system", "repo")
		}(i)
	}
	wg.Wait()

	for _, d := range dirs {
		g.Expect(d).To(Equal(dirs[0]))
	}
	g.Expect(srv.hits.Load()).To(BeEquivalentTo(1))
}

func TestFetch_DigestMismatch(t *testing.T) {
	g := NewWithT(t)

	blob := buildArtifact(t, map[string]string{"main.k": "a = 1"})
	srv := newArtifactServer(t, map[string][]byte{"/repo.tar.gz": blob})

	f := New(Options{StorageDir: t.TempDir()})
	artifact := testArtifact(srv.URL, "/repo.tar.gz", blob, "main@sha1:1")
	artifact.Digest = digest.FromString("tampered").String()

	_, err := f.Fetch(context.Background(), artifact, "flux-system", "repo")
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("digest mismatch"))

	var fetchErr *Error
	g.Expect(errors.As(err, &fetchErr)).To(BeTrue())
	g.Expect(fetchErr.Transient()).To(BeFalse())
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	g := NewWithT(t)

	blob := buildArtifact(t, map[string]string{"main.k": "a = 1"})
	srv := newArtifactServer(t, map[string][]byte{"/repo.tar.gz": blob})
	srv.failures.Store(2)

	f := New(Options{StorageDir: t.TempDir(), Retries: 2, RetryDelay: time.Millisecond})
	_, err := f.Fetch(context.Background(), testArtifact(srv.URL, "/repo.tar.gz", blob, "main@sha1:1"), "flux-system", "repo")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(srv.hits.Load()).To(BeEquivalentTo(3))
}

func TestFetch_ExhaustedRetriesAreTransient(t *testing.T) {
	g := NewWithT(t)

	blob := buildArtifact(t, map[string]string{"main.k": "a = 1"})
	srv := newArtifactServer(t, map[string][]byte{"/repo.tar.gz": blob})
	srv.failures.Store(5)

	f := New(Options{StorageDir: t.TempDir(), Retries: 1, RetryDelay: time.Millisecond})
	_, err := f.Fetch(context.Background(), testArtifact(srv.URL, "/repo.tar.gz", blob, "main@sha1:1"), "flux-system", "repo")

	var fetchErr *Error
	g.Expect(errors.As(err, &fetchErr)).To(BeTrue())
	g.Expect(fetchErr.Transient()).To(BeTrue())
	g.Expect(srv.hits.Load()).To(BeEquivalentTo(2))
}

func TestFetch_SourceHostOverride(t *testing.T) {
	g := NewWithT(t)

	blob := buildArtifact(t, map[string]string{"main.k": "a = 1"})
	srv := newArtifactServer(t, map[string][]byte{"/gitrepository/flux-system/repo/abc.tar.gz": blob})
	u, err := url.Parse(srv.URL)
	g.Expect(err).ToNot(HaveOccurred())

	f := New(Options{StorageDir: t.TempDir(), SourceHost: u.Host})
	artifact := testArtifact("http://source-controller.flux-system.svc.cluster.local.",
		"/gitrepository/flux-system/repo/abc.tar.gz", blob, "main@sha1:1")

	dir, err := f.Fetch(context.Background(), artifact, "flux-system", "repo")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(filepath.Join(dir, "main.k")).To(BeAnExistingFile())
}

func TestFetch_RemovesStaleRevisions(t *testing.T) {
	g := NewWithT(t)

	blob1 := buildArtifact(t, map[string]string{"main.k": "a = 1"})
	blob2 := buildArtifact(t, map[string]string{"main.k": "a = 2"})
	srv := newArtifactServer(t, map[string][]byte{"/v1.tar.gz": blob1, "/v2.tar.gz": blob2})

	f := New(Options{StorageDir: t.TempDir()})

	dir1, err := f.Fetch(context.Background(), testArtifact(srv.URL, "/v1.tar.gz", blob1, "main@sha1:1"), "flux-system", "repo")
	g.Expect(err).ToNot(HaveOccurred())

	dir2, err := f.Fetch(context.Background(), testArtifact(srv.URL, "/v2.tar.gz", blob2, "main@sha1:2"), "flux-system", "repo")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(dir2).ToNot(Equal(dir1))
	g.Expect(dir1).ToNot(BeADirectory())

	content, err := os.ReadFile(filepath.Join(dir2, "main.k"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(content)).To(Equal("a = 2"))
}

func TestWorkspace(t *testing.T) {
	g := NewWithT(t)

	artifactDir := t.TempDir()
	g.Expect(os.MkdirAll(filepath.Join(artifactDir, "deploy", "app"), 0o755)).To(Succeed())
	g.Expect(os.WriteFile(filepath.Join(artifactDir, "deploy", "app", "main.k"), []byte("a = 1"), 0o644)).To(Succeed())

	f := New(Options{StorageDir: t.TempDir()})

	root, module, cleanup, err := f.Workspace(artifactDir, "./deploy/app")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(module).To(Equal(filepath.Join(root, "deploy", "app")))
	g.Expect(filepath.Join(module, "main.k")).To(BeAnExistingFile())

	g.Expect(os.WriteFile(filepath.Join(module, "kcl.mod.lock"), []byte(""), 0o644)).To(Succeed())
	g.Expect(filepath.Join(artifactDir, "deploy", "app", "kcl.mod.lock")).ToNot(BeAnExistingFile())

	cleanup()
	g.Expect(root).ToNot(BeADirectory())
}

func TestWorkspace_SourceIgnore(t *testing.T) {
	g := NewWithT(t)

	artifactDir := t.TempDir()
	for _, dir := range []string{"deploy", "docs", ".git"} {
		g.Expect(os.MkdirAll(filepath.Join(artifactDir, dir), 0o755)).To(Succeed())
	}
	files := map[string]string{
		".sourceignore":    "docs/\n*.md\n",
		"deploy/main.k":    "a = 1",
		"deploy/README.md": "# app",
		"docs/index.html":  "<html/>",
		".git/HEAD":        "ref: refs/heads/main",
	}
	for name, content := range files {
		g.Expect(os.WriteFile(filepath.Join(artifactDir, name), []byte(content), 0o644)).To(Succeed())
	}

	f := New(Options{StorageDir: t.TempDir()})
	root, module, cleanup, err := f.Workspace(artifactDir, "deploy")
	g.Expect(err).ToNot(HaveOccurred())
	defer cleanup()

	g.Expect(filepath.Join(module, "main.k")).To(BeAnExistingFile())
	g.Expect(filepath.Join(module, "README.md")).ToNot(BeAnExistingFile())
	g.Expect(filepath.Join(root, "docs")).ToNot(BeADirectory())
	g.Expect(filepath.Join(root, ".git")).ToNot(BeADirectory())
}

func TestWorkspace_EvictedArtifact(t *testing.T) {
	g := NewWithT(t)

	storage := t.TempDir()
	artifactDir := filepath.Join(storage, "default", "repo", "rev1")
	g.Expect(os.MkdirAll(filepath.Join(artifactDir, "deploy"), 0o755)).To(Succeed())

	f := New(Options{StorageDir: storage})

	// a newer revision of the same source removed the cached one
	g.Expect(os.RemoveAll(artifactDir)).To(Succeed())

	_, _, _, err := f.Workspace(artifactDir, "deploy")
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("evicted"))

	var fetchErr *Error
	g.Expect(errors.As(err, &fetchErr)).To(BeTrue())
	g.Expect(fetchErr.Transient()).To(BeTrue())
}

func TestWorkspace_InvalidPaths(t *testing.T) {
	artifactDir := t.TempDir()
	f := New(Options{StorageDir: t.TempDir()})

	for _, p := range []string{"../escape", "deploy/../../escape", "missing"} {
		t.Run(p, func(t *testing.T) {
			g := NewWithT(t)

			_, _, _, err := f.Workspace(artifactDir, p)
			g.Expect(err).To(HaveOccurred())

			var fetchErr *Error
			g.Expect(errors.As(err, &fetchErr)).To(BeTrue())
			g.Expect(fetchErr.Transient()).To(BeFalse())
		})
	}
}
