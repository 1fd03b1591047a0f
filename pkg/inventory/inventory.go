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

// Package inventory tracks the set of Kubernetes objects owned by a KclInstance.
package inventory

import (
	"fmt"
	"sort"

	"github.com/fluxcd/cli-utils/pkg/object"
	"github.com/fluxcd/pkg/ssa"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// Inventory is a set of object identities, each entry holding the
// API version the object was last applied with.
type Inventory struct {
	entries map[object.ObjMetadata]string
}

// New returns an empty inventory.
func New() *Inventory {
	return &Inventory{
		entries: make(map[object.ObjMetadata]string),
	}
}

// FromStatus loads the inventory recorded in the instance status.
func FromStatus(in *apiv1.ResourceInventory) (*Inventory, error) {
	inv := New()
	if in == nil {
		return inv, nil
	}

	for _, entry := range in.Entries {
		id, err := object.ParseObjMetadata(entry.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid inventory entry '%s': %w", entry.ID, err)
		}
		inv.entries[id] = entry.Version
	}

	return inv, nil
}

// FromObjects returns the inventory of the given objects.
func FromObjects(objects []*unstructured.Unstructured) (*Inventory, error) {
	inv := New()
	for _, obj := range objects {
		if err := inv.Add(obj); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// Add extracts the identity of the given object and adds it to the inventory.
func (inv *Inventory) Add(obj *unstructured.Unstructured) error {
	gv, err := schema.ParseGroupVersion(obj.GetAPIVersion())
	if err != nil {
		return err
	}
	inv.entries[object.UnstructuredToObjMetadata(obj)] = gv.Version
	return nil
}

// AddEntry adds the given identity with its API version.
func (inv *Inventory) AddEntry(id object.ObjMetadata, version string) {
	inv.entries[id] = version
}

// Remove drops the given identity from the inventory.
func (inv *Inventory) Remove(id object.ObjMetadata) {
	delete(inv.entries, id)
}

// Has reports whether the identity is part of the inventory.
func (inv *Inventory) Has(id object.ObjMetadata) bool {
	_, ok := inv.entries[id]
	return ok
}

// VersionOf returns the API version of the given object if found in this inventory.
func (inv *Inventory) VersionOf(id object.ObjMetadata) string {
	return inv.entries[id]
}

// Len returns the number of entries.
func (inv *Inventory) Len() int {
	return len(inv.entries)
}

// IDs returns the identities sorted by their string representation.
func (inv *Inventory) IDs() object.ObjMetadataSet {
	ids := make(object.ObjMetadataSet, 0, len(inv.entries))
	for id := range inv.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// Diff returns the entries that do not exist in the target inventory.
func (inv *Inventory) Diff(target *Inventory) *Inventory {
	result := New()
	for id, version := range inv.entries {
		if target == nil || !target.Has(id) {
			result.entries[id] = version
		}
	}
	return result
}

// Union returns the entries of both inventories. When an identity
// is present in both, the version from other takes precedence.
func (inv *Inventory) Union(other *Inventory) *Inventory {
	result := New()
	for id, version := range inv.entries {
		result.entries[id] = version
	}
	if other != nil {
		for id, version := range other.entries {
			result.entries[id] = version
		}
	}
	return result
}

// ListObjects returns the inventory entries as unstructured.Unstructured objects
// sorted in apply order.
func (inv *Inventory) ListObjects() []*unstructured.Unstructured {
	objects := make([]*unstructured.Unstructured, 0, len(inv.entries))
	for id, version := range inv.entries {
		u := &unstructured.Unstructured{}
		u.SetGroupVersionKind(schema.GroupVersionKind{
			Group:   id.GroupKind.Group,
			Kind:    id.GroupKind.Kind,
			Version: version,
		})
		u.SetName(id.Name)
		u.SetNamespace(id.Namespace)
		objects = append(objects, u)
	}

	sort.Sort(ssa.SortableUnstructureds(objects))
	return objects
}

// ToStatus returns the inventory in the format recorded in the instance status,
// with the entries sorted by ID.
func (inv *Inventory) ToStatus() *apiv1.ResourceInventory {
	entries := make([]apiv1.ResourceRef, 0, len(inv.entries))
	for _, id := range inv.IDs() {
		entries = append(entries, apiv1.ResourceRef{
			ID:      id.String(),
			Version: inv.entries[id],
		})
	}
	return &apiv1.ResourceInventory{Entries: entries}
}
