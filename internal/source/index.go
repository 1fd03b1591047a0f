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

package source

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// IndexKey is the field index holding the source reference of an instance.
const IndexKey = ".metadata.sourceRef"

// SourceIndexKey returns the index value for a source object.
func SourceIndexKey(kind, namespace, name string) string {
	return fmt.Sprintf("%s/%s/%s", kind, namespace, name)
}

// IndexBySource is a client.IndexerFunc returning the source key of a KclInstance.
func IndexBySource(obj client.Object) []string {
	instance, ok := obj.(*apiv1.KclInstance)
	if !ok {
		return nil
	}
	ref := instance.Spec.SourceRef
	return []string{SourceIndexKey(ref.Kind, instance.GetSourceNamespace(), ref.Name)}
}

// DefaultGroupVersion returns the group version of the watched Flux source kinds.
func DefaultGroupVersion() schema.GroupVersion {
	gv, _ := schema.ParseGroupVersion(apiv1.DefaultSourceAPIVersion)
	return gv
}

// RevisionOf returns the artifact revision of a source object.
func RevisionOf(obj client.Object) string {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		return ""
	}
	rev, _, _ := unstructured.NestedString(u.Object, "status", "artifact", "revision")
	return rev
}

// RevisionChangePredicate filters source events, letting through
// only the ones where a new artifact revision is available.
type RevisionChangePredicate struct {
	predicate.Funcs
}

func (RevisionChangePredicate) Create(e event.CreateEvent) bool {
	return RevisionOf(e.Object) != ""
}

func (RevisionChangePredicate) Update(e event.UpdateEvent) bool {
	if e.ObjectOld == nil || e.ObjectNew == nil {
		return false
	}
	newRev := RevisionOf(e.ObjectNew)
	return newRev != "" && newRev != RevisionOf(e.ObjectOld)
}

func (RevisionChangePredicate) Delete(e event.DeleteEvent) bool {
	return false
}
