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
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// SourceGroupVersion is the Flux source API group version used in tests.
var SourceGroupVersion = schema.GroupVersion{Group: "source.toolkit.fluxcd.io", Version: "v1"}

// NewScheme returns a scheme with the core types, the KclInstance API
// and the Flux source kinds registered as unstructured objects.
func NewScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(s)
	_ = apiv1.AddToScheme(s)
	for _, kind := range []string{apiv1.GitRepositoryKind, apiv1.OCIRepositoryKind} {
		s.AddKnownTypeWithName(SourceGroupVersion.WithKind(kind), &unstructured.Unstructured{})
		s.AddKnownTypeWithName(SourceGroupVersion.WithKind(kind+"List"), &unstructured.UnstructuredList{})
	}
	return s
}

// NewSource returns a Flux source object with a ready artifact.
// An empty revision returns a source that isn't ready.
func NewSource(kind, namespace, name, revision, url, digest string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(SourceGroupVersion.WithKind(kind))
	u.SetNamespace(namespace)
	u.SetName(name)

	if revision == "" {
		_ = unstructured.SetNestedSlice(u.Object, []interface{}{
			map[string]interface{}{
				"type":    apiv1.ReadyCondition,
				"status":  "False",
				"reason":  "GitOperationFailed",
				"message": "failed to checkout",
			},
		}, "status", "conditions")
		return u
	}

	_ = unstructured.SetNestedSlice(u.Object, []interface{}{
		map[string]interface{}{
			"type":    apiv1.ReadyCondition,
			"status":  "True",
			"reason":  "Succeeded",
			"message": "stored artifact for revision " + revision,
		},
	}, "status", "conditions")
	_ = unstructured.SetNestedMap(u.Object, map[string]interface{}{
		"revision":       revision,
		"url":            url,
		"digest":         digest,
		"lastUpdateTime": time.Now().UTC().Format(time.RFC3339),
	}, "status", "artifact")
	return u
}
