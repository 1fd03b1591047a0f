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

package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxcd/cli-utils/pkg/object"
	"github.com/fluxcd/pkg/ssa"
	ssautil "github.com/fluxcd/pkg/ssa/utils"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
	"github.com/evrone/kcl-controller/internal/runtime"
)

var clusterScopedKinds = map[string]bool{
	"Namespace":                true,
	"CustomResourceDefinition": true,
	"ClusterRole":              true,
	"ClusterRoleBinding":       true,
	"PersistentVolume":         true,
	"StorageClass":             true,
}

// FakeWriter is an in-memory cluster implementing the apply engine writer.
// Deletions follow the ownership and prune rules of server-side apply deletes.
type FakeWriter struct {
	mu sync.Mutex

	ownerName      string
	ownerNamespace string

	objects map[object.ObjMetadata]*unstructured.Unstructured

	// ApplyErrors fails the apply of the objects with the given IDs.
	ApplyErrors map[string]error

	// DeleteErrors fails the deletion of the objects with the given IDs.
	DeleteErrors map[string]error

	// Writes counts the apply calls that changed an object.
	Writes int
}

// NewFakeWriter returns an empty fake cluster.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{
		objects:      make(map[object.ObjMetadata]*unstructured.Unstructured),
		ApplyErrors:  make(map[string]error),
		DeleteErrors: make(map[string]error),
	}
}

// SetOwner sets the instance whose objects may be deleted.
func (w *FakeWriter) SetOwner(name, namespace string) *FakeWriter {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ownerName = name
	w.ownerNamespace = namespace
	return w
}

// Seed stores an object in the fake cluster.
func (w *FakeWriter) Seed(obj *unstructured.Unstructured) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[object.UnstructuredToObjMetadata(obj)] = obj.DeepCopy()
}

// Lookup returns the stored object with the given ID.
func (w *FakeWriter) Lookup(id string) (*unstructured.Unstructured, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range w.objects {
		if k.String() == id {
			return v.DeepCopy(), true
		}
	}
	return nil, false
}

// IDs returns the IDs of the stored objects.
func (w *FakeWriter) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.objects))
	for k := range w.objects {
		ids = append(ids, k.String())
	}
	return ids
}

func (w *FakeWriter) Get(_ context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.objects[object.UnstructuredToObjMetadata(obj)]; ok {
		return existing.DeepCopy(), nil
	}
	return nil, nil
}

func (w *FakeWriter) Apply(_ context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := object.UnstructuredToObjMetadata(obj)
	if err := w.ApplyErrors[id.String()]; err != nil {
		return nil, err
	}

	action := ssa.CreatedAction
	if existing, ok := w.objects[id]; ok {
		action = ssa.ConfiguredAction
		if equality.Semantic.DeepEqual(existing.Object, obj.Object) {
			action = ssa.UnchangedAction
		}
	}
	if action != ssa.UnchangedAction {
		w.Writes++
	}
	w.objects[id] = obj.DeepCopy()

	return entryFor(obj, action), nil
}

func (w *FakeWriter) Delete(_ context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := object.UnstructuredToObjMetadata(obj)
	if err := w.DeleteErrors[id.String()]; err != nil {
		return nil, err
	}

	existing, ok := w.objects[id]
	if !ok {
		return entryFor(obj, ssa.DeletedAction), nil
	}

	labels := existing.GetLabels()
	if runtime.PruneDisabled(existing) ||
		labels[apiv1.OwnerNameLabel] != w.ownerName ||
		labels[apiv1.OwnerNamespaceLabel] != w.ownerNamespace {
		return entryFor(obj, ssa.SkippedAction), nil
	}

	delete(w.objects, id)
	return entryFor(obj, ssa.DeletedAction), nil
}

func (w *FakeWriter) IsNamespaced(obj *unstructured.Unstructured) (bool, error) {
	if obj.GetKind() == "" {
		return false, fmt.Errorf("no kind")
	}
	return !clusterScopedKinds[obj.GetKind()], nil
}

func entryFor(obj *unstructured.Unstructured, action ssa.Action) *ssa.ChangeSetEntry {
	return &ssa.ChangeSetEntry{
		ObjMetadata:  object.UnstructuredToObjMetadata(obj),
		GroupVersion: obj.GroupVersionKind().GroupVersion().String(),
		Subject:      ssautil.FmtUnstructured(obj),
		Action:       action,
	}
}
