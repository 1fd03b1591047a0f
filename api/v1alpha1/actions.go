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

package v1alpha1

import "fmt"

const (
	EnabledValue  = "enabled"
	DisabledValue = "disabled"
)

var (
	// PruneAction is the annotation that defines if a Kubernetes resource should be garbage collected.
	PruneAction = fmt.Sprintf("%s/prune", GroupVersion.Group)

	// ForceAction is the annotation that defines if a Kubernetes resource should be recreated.
	ForceAction = fmt.Sprintf("%s/force", GroupVersion.Group)

	// OwnerNameLabel is the label holding the name of the instance that owns a resource.
	OwnerNameLabel = fmt.Sprintf("%s/name", GroupVersion.Group)

	// OwnerNamespaceLabel is the label holding the namespace of the instance that owns a resource.
	OwnerNamespaceLabel = fmt.Sprintf("%s/namespace", GroupVersion.Group)
)

// ReconcileRequestAnnotation is the annotation used by the Flux CLI
// and webhook receivers to request an out-of-band reconciliation.
const ReconcileRequestAnnotation = "reconcile.fluxcd.io/requestedAt"
