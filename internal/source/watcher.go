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

// Package source reads Flux source objects and decides when
// a KclInstance needs to be reconciled.
package source

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// Artifact holds the current revision and location of a source artifact.
type Artifact struct {
	// Revision is the source revision, e.g. 'main@sha1:<hash>'.
	Revision string

	// URL is the HTTP address of the artifact tarball.
	URL string

	// Digest is the artifact checksum in the format '<algorithm>:<hex>'.
	Digest string

	// LastUpdateTime is the time the artifact was produced.
	LastUpdateTime time.Time
}

// Error is returned when the source can't provide an artifact.
type Error struct {
	reason string
	Ref    apiv1.SourceReference
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s: %v", e.Ref.String(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns the condition reason matching the failure.
func (e *Error) Reason() string {
	return e.reason
}

// Watcher reads the artifact of the source referenced by an instance.
type Watcher struct {
	reader client.Reader
}

// NewWatcher creates a watcher backed by the given client.
func NewWatcher(reader client.Reader) *Watcher {
	return &Watcher{
		reader: reader,
	}
}

// GetArtifact returns the latest artifact of the instance source.
// It fails with SourceNotFound when the object is absent and with
// SourceNotReady when the object has no ready artifact yet.
func (w *Watcher) GetArtifact(ctx context.Context, instance *apiv1.KclInstance) (*Artifact, error) {
	ref := instance.Spec.SourceRef
	ref.Namespace = instance.GetSourceNamespace()

	gv, err := schema.ParseGroupVersion(ref.GetAPIVersion())
	if err != nil {
		return nil, &Error{reason: apiv1.ValidationFailedReason, Ref: ref, Err: err}
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gv.WithKind(ref.Kind))
	if err := w.reader.Get(ctx, client.ObjectKey{Namespace: ref.Namespace, Name: ref.Name}, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &Error{reason: apiv1.SourceNotFoundReason, Ref: ref, Err: fmt.Errorf("not found")}
		}
		return nil, fmt.Errorf("failed to get source %s: %w", ref.String(), err)
	}

	if ready, msg := isReady(obj); !ready {
		return nil, &Error{reason: apiv1.SourceNotReadyReason, Ref: ref, Err: fmt.Errorf("not ready: %s", msg)}
	}

	artifact, err := artifactOf(obj)
	if err != nil {
		return nil, &Error{reason: apiv1.SourceNotReadyReason, Ref: ref, Err: err}
	}

	return artifact, nil
}

func isReady(obj *unstructured.Unstructured) (bool, string) {
	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok || cond["type"] != apiv1.ReadyCondition {
			continue
		}
		msg, _ := cond["message"].(string)
		return cond["status"] == "True", msg
	}
	return false, "waiting for the Ready condition"
}

func artifactOf(obj *unstructured.Unstructured) (*Artifact, error) {
	m, found, err := unstructured.NestedMap(obj.Object, "status", "artifact")
	if err != nil {
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("no artifact available")
	}

	artifact := &Artifact{}
	artifact.Revision, _, _ = unstructured.NestedString(m, "revision")
	artifact.URL, _, _ = unstructured.NestedString(m, "url")
	artifact.Digest, _, _ = unstructured.NestedString(m, "digest")
	if ts, ok, _ := unstructured.NestedString(m, "lastUpdateTime"); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			artifact.LastUpdateTime = t
		}
	}

	if artifact.Revision == "" || artifact.URL == "" {
		return nil, fmt.Errorf("artifact has no revision or url")
	}

	return artifact, nil
}
