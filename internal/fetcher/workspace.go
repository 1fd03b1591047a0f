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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/fluxcd/pkg/sourceignore"
	cp "github.com/otiai10/copy"
)

// Workspace copies the extracted artifact to a private temporary dir
// and returns the workspace root and the path of the module inside it.
// The cleanup func removes the workspace and must always be called
// when err is nil.
func (f *Fetcher) Workspace(artifactDir, modulePath string) (root, module string, cleanup func(), err error) {
	rel, err := cleanModulePath(modulePath)
	if err != nil {
		return "", "", nil, permanentError(err)
	}

	if !exists(artifactDir) {
		return "", "", nil, evictedError(artifactDir)
	}

	root, err = os.MkdirTemp("", "kcl-workspace-")
	if err != nil {
		return "", "", nil, transientError(fmt.Errorf("failed to create workspace: %w", err))
	}
	cleanup = func() {
		_ = os.RemoveAll(root)
	}

	skip, err := ignoreFilter(artifactDir)
	if err != nil {
		cleanup()
		return "", "", nil, permanentError(err)
	}

	if err := cp.Copy(artifactDir, root, cp.Options{
		OnSymlink: func(string) cp.SymlinkAction { return cp.Shallow },
		Skip: func(fi os.FileInfo, src, _ string) (bool, error) {
			return skip(src, fi), nil
		},
	}); err != nil {
		cleanup()
		return "", "", nil, transientError(fmt.Errorf("failed to copy artifact: %w", err))
	}

	module, err = securejoin.SecureJoin(root, rel)
	if err != nil {
		cleanup()
		return "", "", nil, permanentError(fmt.Errorf("invalid path '%s': %w", modulePath, err))
	}

	if fi, err := os.Stat(module); err != nil || !fi.IsDir() {
		cleanup()
		if !exists(artifactDir) {
			return "", "", nil, evictedError(artifactDir)
		}
		return "", "", nil, permanentError(fmt.Errorf("module path '%s' not found in artifact", modulePath))
	}

	return root, module, cleanup, nil
}

// cleanModulePath rejects paths that point outside the artifact root.
func cleanModulePath(p string) (string, error) {
	if p == "" {
		return ".", nil
	}
	if filepath.IsAbs(p) {
		p = strings.TrimPrefix(p, string(filepath.Separator))
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' points outside the artifact", p)
	}
	return clean, nil
}

// ignoreFilter matches the VCS metadata and the patterns listed in the
// .sourceignore file found at the artifact root.
func ignoreFilter(dir string) (func(p string, fi os.FileInfo) bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	domain := strings.Split(filepath.Clean(absDir), string(filepath.Separator))
	ps := sourceignore.VCSPatterns(domain)

	data, err := os.ReadFile(filepath.Join(absDir, sourceignore.IgnoreFile))
	switch {
	case err == nil:
		ps = append(ps, sourceignore.ReadPatterns(strings.NewReader(string(data)), domain)...)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s failed: %w", sourceignore.IgnoreFile, err)
	}

	matcher := sourceignore.NewMatcher(ps)
	return func(p string, fi os.FileInfo) bool {
		abs, err := filepath.Abs(p)
		if err != nil || abs == absDir {
			return false
		}
		return matcher.Match(strings.Split(abs, string(filepath.Separator)), fi.IsDir())
	}, nil
}

func exists(dir string) bool {
	fi, err := os.Stat(dir)
	return err == nil && fi.IsDir()
}

// evictedError is returned when the cached artifact was replaced by a newer
// revision of the same source while the workspace was being prepared.
func evictedError(dir string) error {
	return transientError(fmt.Errorf("artifact %s was evicted from the cache", filepath.Base(dir)))
}
