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

package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxcd/cli-utils/pkg/object"
	"github.com/fluxcd/pkg/ssa"
	ssautil "github.com/fluxcd/pkg/ssa/utils"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ResourceWriter applies and deletes the objects of an instance
// using server-side apply.
type ResourceWriter struct {
	rm          *ssa.ResourceManager
	applyOpts   ssa.ApplyOptions
	deleteOpts  ssa.DeleteOptions
	waitTimeout time.Duration
}

// NewResourceWriter returns a writer for the instance with the given name and namespace.
func NewResourceWriter(rm *ssa.ResourceManager, name, namespace string, force bool, timeout time.Duration) *ResourceWriter {
	return &ResourceWriter{
		rm:          rm,
		applyOpts:   ApplyOptions(force, timeout),
		deleteOpts:  DeleteOptions(name, namespace),
		waitTimeout: timeout,
	}
}

// Get returns the live state of the object, or nil if it doesn't exist.
func (w *ResourceWriter) Get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	existing := &unstructured.Unstructured{}
	existing.SetGroupVersionKind(obj.GroupVersionKind())
	if err := w.rm.Client().Get(ctx, client.ObjectKeyFromObject(obj), existing); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s query failed: %w", ssautil.FmtUnstructured(obj), err)
	}
	return existing, nil
}

// Apply runs a server-side apply dry-run and patches the object only
// when it has drifted. Cluster definitions are waited on until
// they are established.
func (w *ResourceWriter) Apply(ctx context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error) {
	entry, err := w.rm.Apply(ctx, obj, w.applyOpts)
	if err != nil {
		return nil, err
	}

	if ssautil.IsClusterDefinition(obj) && entry.Action == ssa.CreatedAction {
		set := object.ObjMetadataSet{entry.ObjMetadata}
		if err := w.rm.WaitForSet(set, ssa.WaitOptions{
			Interval: w.applyOpts.WaitInterval,
			Timeout:  w.waitTimeout,
		}); err != nil {
			return entry, fmt.Errorf("%s not established: %w", entry.Subject, err)
		}
	}

	return entry, nil
}

// Delete removes the object from the cluster. Objects not owned
// by the instance or annotated with prune disabled are skipped.
func (w *ResourceWriter) Delete(ctx context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error) {
	return w.rm.Delete(ctx, obj, w.deleteOpts)
}

// IsNamespaced reports whether the object kind is namespace scoped
// according to the cluster discovery.
func (w *ResourceWriter) IsNamespaced(obj *unstructured.Unstructured) (bool, error) {
	return w.rm.Client().IsObjectNamespaced(obj)
}
