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
	"fmt"
	"time"

	"github.com/fluxcd/cli-utils/pkg/kstatus/polling"
	"github.com/fluxcd/cli-utils/pkg/object"
	"github.com/fluxcd/pkg/ssa"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	apiruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// ManagedByLabel marks the objects applied by the controller.
const ManagedByLabel = "app.kubernetes.io/managed-by"

// ownerRef contains the server-side apply field manager and ownership labels group.
var ownerRef = ssa.Owner{
	Field: apiv1.FieldManager,
	Group: apiv1.GroupVersion.Group,
}

// NewResourceManager creates a ResourceManager for the given cluster.
// The manager uses a non-cached client, server-side apply dry-runs
// must observe the live state of the objects.
func NewResourceManager(cfg *rest.Config, mapper meta.RESTMapper) (*ssa.ResourceManager, error) {
	cfg = rest.CopyConfig(cfg)

	// bump limits
	cfg.QPS = 100.0
	cfg.Burst = 300

	kubeClient, err := client.New(cfg, client.Options{Mapper: mapper, Scheme: defaultScheme()})
	if err != nil {
		return nil, fmt.Errorf("initialising client failed: %w", err)
	}

	kubePoller := polling.NewStatusPoller(kubeClient, mapper, polling.Options{})

	return ssa.NewResourceManager(kubeClient, kubePoller, ownerRef), nil
}

// SelectObjectsFromSet returns a list of Kubernetes objects from the given changeset filtered by action.
func SelectObjectsFromSet(set *ssa.ChangeSet, action ssa.Action) []*unstructured.Unstructured {
	var objects []*unstructured.Unstructured
	for _, entry := range set.Entries {
		if entry.Action == action {
			gv, _ := schema.ParseGroupVersion(entry.GroupVersion)
			u := &unstructured.Unstructured{}
			u.SetGroupVersionKind(schema.GroupVersionKind{
				Group:   entry.ObjMetadata.GroupKind.Group,
				Kind:    entry.ObjMetadata.GroupKind.Kind,
				Version: gv.Version,
			})
			u.SetName(entry.ObjMetadata.Name)
			u.SetNamespace(entry.ObjMetadata.Namespace)
			objects = append(objects, u)
		}
	}
	return objects
}

// SetOwnerLabels marks the objects as owned by the given instance.
func SetOwnerLabels(objects []*unstructured.Unstructured, name, namespace string) {
	for _, obj := range objects {
		labels := obj.GetLabels()
		if labels == nil {
			labels = make(map[string]string)
		}
		labels[apiv1.OwnerNameLabel] = name
		labels[apiv1.OwnerNamespaceLabel] = namespace
		labels[ManagedByLabel] = apiv1.FieldManager
		obj.SetLabels(labels)
	}
}

// OwnerOf returns the instance name and namespace recorded in the owner labels of an object.
func OwnerOf(obj *unstructured.Unstructured) (name, namespace string, ok bool) {
	labels := obj.GetLabels()
	name, hasName := labels[apiv1.OwnerNameLabel]
	namespace, hasNamespace := labels[apiv1.OwnerNamespaceLabel]
	return name, namespace, hasName && hasNamespace
}

// ApplyOptions returns the default options for server-side apply operations.
func ApplyOptions(force bool, wait time.Duration) ssa.ApplyOptions {
	return ssa.ApplyOptions{
		Force: force,
		ForceSelector: map[string]string{
			apiv1.ForceAction: apiv1.EnabledValue,
		},
		WaitInterval: 2 * time.Second,
		WaitTimeout:  wait,
	}
}

// DeleteOptions returns the default options for delete operations.
func DeleteOptions(name, namespace string) ssa.DeleteOptions {
	return ssa.DeleteOptions{
		PropagationPolicy: metav1.DeletePropagationBackground,
		Inclusions: map[string]string{
			apiv1.OwnerNameLabel:      name,
			apiv1.OwnerNamespaceLabel: namespace,
		},
		Exclusions: map[string]string{
			apiv1.PruneAction: apiv1.DisabledValue,
		},
	}
}

// PruneDisabled reports whether the object opted out of garbage collection.
func PruneDisabled(obj *unstructured.Unstructured) bool {
	return obj.GetAnnotations()[apiv1.PruneAction] == apiv1.DisabledValue
}

// ObjMetadataOf returns the identity of an object.
func ObjMetadataOf(obj *unstructured.Unstructured) object.ObjMetadata {
	return object.UnstructuredToObjMetadata(obj)
}

func defaultScheme() *apiruntime.Scheme {
	scheme := apiruntime.NewScheme()
	_ = apiextensionsv1.AddToScheme(scheme)
	_ = corev1.AddToScheme(scheme)
	return scheme
}
