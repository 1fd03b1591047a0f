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

// Package apply reconciles the rendered objects of an instance with the cluster
// and garbage collects the objects removed from the desired set.
package apply

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/fluxcd/pkg/ssa"
	ssautil "github.com/fluxcd/pkg/ssa/utils"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/evrone/kcl-controller/internal/runtime"
	"github.com/evrone/kcl-controller/pkg/inventory"
)

// Writer performs the cluster operations of the engine.
type Writer interface {
	// Get returns the live state of the object, or nil if it doesn't exist.
	Get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)

	// Apply server-side applies the object.
	Apply(ctx context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error)

	// Delete removes the object, NotFound is reported as deleted.
	Delete(ctx context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error)

	// IsNamespaced reports whether the object kind is namespace scoped.
	IsNamespaced(obj *unstructured.Unstructured) (bool, error)
}

// Options holds the settings of the instance being reconciled.
type Options struct {
	// Name of the owner instance.
	Name string

	// Namespace of the owner instance, used as the default
	// namespace of namespaced objects.
	Namespace string

	// Prune enables the deletion of stale objects.
	Prune bool
}

// Result holds the outcome of a reconciliation.
type Result struct {
	// ChangeSet holds the applied and deleted objects.
	ChangeSet *ssa.ChangeSet

	// Inventory is the set of objects owned by the instance after
	// the reconciliation, to be persisted even when it failed.
	Inventory *inventory.Inventory
}

// Engine applies the desired objects and prunes the stale ones.
type Engine struct {
	writer Writer
	opts   Options
}

// NewEngine returns an engine for the given instance.
func NewEngine(writer Writer, opts Options) *Engine {
	return &Engine{
		writer: writer,
		opts:   opts,
	}
}

// Reconcile applies the desired objects, then deletes the objects
// found in the previous inventory but not in the desired set.
// The returned inventory holds the confirmed applied objects and
// the previous entries whose deletion wasn't confirmed.
// Per-object failures don't stop the processing of the other objects,
// they are aggregated in the returned error.
func (e *Engine) Reconcile(ctx context.Context, desired []*unstructured.Unstructured, previous *inventory.Inventory) (*Result, error) {
	if previous == nil {
		previous = inventory.New()
	}

	result := &Result{
		ChangeSet: ssa.NewChangeSet(),
		Inventory: previous.Union(nil),
	}

	objects, desiredInv, err := e.prepare(desired)
	if err != nil {
		return result, err
	}

	var applyErrs, pruneErrs []error

	applied := inventory.New()
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			applyErrs = append(applyErrs, err)
			break
		}

		// An entry returned with an error means the object was written
		// but a follow-up step failed, it is owned from now on.
		entry, err := e.apply(ctx, obj)
		if err != nil {
			applyErrs = append(applyErrs, err)
		}
		if entry == nil {
			continue
		}
		result.ChangeSet.Add(*entry)
		if err := applied.Add(obj); err != nil {
			applyErrs = append(applyErrs, err)
		}
	}

	stale := previous.Diff(desiredInv)
	removed := inventory.New()
	staleObjects := stale.ListObjects()
	slices.Reverse(staleObjects)
	for _, obj := range staleObjects {
		id := runtime.ObjMetadataOf(obj)
		if !e.opts.Prune {
			removed.AddEntry(id, stale.VersionOf(id))
			continue
		}

		if err := ctx.Err(); err != nil {
			pruneErrs = append(pruneErrs, err)
			break
		}

		entry, err := e.writer.Delete(ctx, obj)
		if err != nil {
			pruneErrs = append(pruneErrs, fmt.Errorf("%s prune failed: %w", ssautil.FmtUnstructured(obj), err))
			continue
		}
		result.ChangeSet.Add(*entry)
		removed.AddEntry(id, stale.VersionOf(id))
	}

	result.Inventory = applied.Union(previous.Diff(removed))

	return result, newError(applyErrs, pruneErrs)
}

// Drain deletes every object of the inventory.
func (e *Engine) Drain(ctx context.Context, previous *inventory.Inventory) (*Result, error) {
	return e.Reconcile(ctx, nil, previous)
}

// prepare validates the desired objects, defaults their namespace and
// sets the owner labels. Any failure rejects the whole set.
func (e *Engine) prepare(desired []*unstructured.Unstructured) ([]*unstructured.Unstructured, *inventory.Inventory, error) {
	objects := make([]*unstructured.Unstructured, 0, len(desired))
	desiredInv := inventory.New()
	var errs []error

	for i, in := range desired {
		obj := in.DeepCopy()
		if err := validateIdentity(obj); err != nil {
			errs = append(errs, fmt.Errorf("object %d: %w", i, err))
			continue
		}

		if obj.GetNamespace() == "" {
			namespaced, err := e.isNamespaced(obj, desired)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ssautil.FmtUnstructured(obj), err))
				continue
			}
			if namespaced {
				obj.SetNamespace(e.opts.Namespace)
			}
		}

		id := runtime.ObjMetadataOf(obj)
		if desiredInv.Has(id) {
			errs = append(errs, fmt.Errorf("%s: duplicate object", ssautil.FmtUnstructured(obj)))
			continue
		}
		if err := desiredInv.Add(obj); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ssautil.FmtUnstructured(obj), err))
			continue
		}

		objects = append(objects, obj)
	}

	if len(errs) > 0 {
		return nil, nil, newValidationError(errs)
	}

	runtime.SetOwnerLabels(objects, e.opts.Name, e.opts.Namespace)
	sort.Stable(ssa.SortableUnstructureds(objects))

	return objects, desiredInv, nil
}

// isNamespaced looks up the scope of the object kind, first in the
// CustomResourceDefinitions of the desired set and then in the cluster.
func (e *Engine) isNamespaced(obj *unstructured.Unstructured, desired []*unstructured.Unstructured) (bool, error) {
	gvk := obj.GroupVersionKind()
	for _, crd := range desired {
		if crd.GetKind() != "CustomResourceDefinition" {
			continue
		}
		group, _, _ := unstructured.NestedString(crd.Object, "spec", "group")
		kind, _, _ := unstructured.NestedString(crd.Object, "spec", "names", "kind")
		if group == gvk.Group && kind == gvk.Kind {
			scope, _, _ := unstructured.NestedString(crd.Object, "spec", "scope")
			return scope == "Namespaced", nil
		}
	}
	return e.writer.IsNamespaced(obj)
}

func (e *Engine) apply(ctx context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error) {
	existing, err := e.writer.Get(ctx, obj)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if name, namespace, ok := runtime.OwnerOf(existing); ok && (name != e.opts.Name || namespace != e.opts.Namespace) {
			return nil, &OwnershipConflictError{
				Subject:        ssautil.FmtUnstructured(obj),
				OwnerName:      name,
				OwnerNamespace: namespace,
			}
		}
	}

	entry, err := e.writer.Apply(ctx, obj)
	if err != nil {
		return entry, fmt.Errorf("%s apply failed: %w", ssautil.FmtUnstructured(obj), err)
	}
	return entry, nil
}
