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

package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/opencontainers/go-digest"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const maxDiagnosticSize = 4096

// KCL renders modules by running the kcl CLI.
type KCL struct {
	binary    string
	extraArgs []string
}

// NewKCL returns a renderer for the given kcl executable.
// The extra args are appended to every 'kcl run' invocation.
func NewKCL(binary, extraArgs string) (*KCL, error) {
	if binary == "" {
		binary = "kcl"
	}

	args, err := shellwords.Parse(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid kcl args '%s': %w", extraArgs, err)
	}

	return &KCL{
		binary:    binary,
		extraArgs: args,
	}, nil
}

// Render runs the module found at modulePath and decodes the emitted manifests.
func (k *KCL) Render(ctx context.Context, modulePath string, args map[string]string, opts Options) (*Result, error) {
	log := log.FromContext(ctx)

	executable, err := exec.LookPath(k.binary)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("executing kcl failed: %w", err)}
	}

	if opts.Vendor {
		log.V(1).Info("resolving module dependencies", "path", modulePath)
		if _, err := k.exec(ctx, executable, modulePath, "mod", "update"); err != nil {
			return nil, err
		}
	}

	runArgs := append([]string{"run", "."}, Args(args, opts)...)
	runArgs = append(runArgs, k.extraArgs...)

	log.V(1).Info("rendering module", "path", modulePath, "arguments", len(args))
	out, err := k.exec(ctx, executable, modulePath, runArgs...)
	if err != nil {
		return nil, err
	}

	objects, err := Decode(out)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("decoding kcl output failed: %w", err)}
	}

	return &Result{
		Objects:     objects,
		Fingerprint: digest.FromBytes(out).String(),
	}, nil
}

func (k *KCL) exec(ctx context.Context, executable, dir string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Err: fmt.Errorf("kcl %s interrupted: %w", args[0], ctx.Err()), transient: true}
		}
		return nil, &Error{
			Err:        fmt.Errorf("kcl %s failed: %w", args[0], err),
			Diagnostic: diagnostic(stderr.String(), stdout.String()),
		}
	}

	return stdout.Bytes(), nil
}

// Args returns the kcl run flags for the given arguments and options,
// with the arguments in sorted key order.
func Args(args map[string]string, opts Options) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	result := make([]string, 0, 2*len(keys)+2)
	for _, k := range keys {
		result = append(result, "-D", fmt.Sprintf("%s=%s", k, args[k]))
	}
	if opts.SortKeys {
		result = append(result, "--sort_keys")
	}
	if opts.ShowHidden {
		result = append(result, "--show_hidden")
	}
	return result
}

func diagnostic(stderr, stdout string) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	if len(msg) > maxDiagnosticSize {
		msg = msg[:maxDiagnosticSize] + "..."
	}
	return msg
}
