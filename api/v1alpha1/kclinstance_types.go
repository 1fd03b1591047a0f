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

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// GitRepositoryKind is the kind of the Flux Git source.
	GitRepositoryKind = "GitRepository"

	// OCIRepositoryKind is the kind of the Flux OCI source.
	OCIRepositoryKind = "OCIRepository"

	// ConfigMapKind is the kind of a ConfigMap arguments reference.
	ConfigMapKind = "ConfigMap"

	// SecretKind is the kind of a Secret arguments reference.
	SecretKind = "Secret"

	// DefaultArgumentsKey is the data key read from arguments references
	// when none is specified.
	DefaultArgumentsKey = "arguments.yaml"

	// DefaultSourceAPIVersion is the API version of the Flux source kinds.
	DefaultSourceAPIVersion = "source.toolkit.fluxcd.io/v1"

	// DefaultInterval is the reconciliation cadence used when none is specified.
	DefaultInterval = 5 * time.Minute
)

// KclInstanceSpec defines the desired state of a KclInstance.
type KclInstanceSpec struct {
	// SourceRef is the reference to the Flux source holding the KCL module.
	// +required
	SourceRef SourceReference `json:"sourceRef"`

	// Path to the KCL module inside the source artifact.
	// Defaults to the artifact root.
	// +optional
	Path string `json:"path,omitempty" validate:"omitempty,max=1024"`

	// Config holds the render arguments and options.
	// +optional
	Config *KclInstanceConfig `json:"config,omitempty"`

	// Interval at which the instance is reconciled when nothing else triggers it.
	// +kubebuilder:validation:Type=string
	// +kubebuilder:validation:Pattern="^([0-9]+(\\.[0-9]+)?(ms|s|m|h))+$"
	// +optional
	Interval *metav1.Duration `json:"interval,omitempty"`

	// RetryInterval is the interval at which to retry a failed reconciliation.
	// Defaults to Interval.
	// +kubebuilder:validation:Type=string
	// +kubebuilder:validation:Pattern="^([0-9]+(\\.[0-9]+)?(ms|s|m|h))+$"
	// +optional
	RetryInterval *metav1.Duration `json:"retryInterval,omitempty"`

	// Timeout for a single reconciliation, including rendering and applying.
	// +kubebuilder:validation:Type=string
	// +kubebuilder:validation:Pattern="^([0-9]+(\\.[0-9]+)?(ms|s|m|h))+$"
	// +optional
	Timeout *metav1.Duration `json:"timeout,omitempty"`

	// Suspend tells the controller to suspend rendering and applying,
	// the object remains watched.
	// +optional
	Suspend bool `json:"suspend,omitempty"`

	// Prune enables garbage collection of resources removed from the desired set.
	// +kubebuilder:default=true
	// +optional
	Prune *bool `json:"prune,omitempty"`

	// Force instructs the controller to recreate resources
	// when patching fails due to an immutable field change.
	// +optional
	Force bool `json:"force,omitempty"`
}

// KclInstanceConfig holds the arguments and render options passed to KCL.
type KclInstanceConfig struct {
	// Arguments are the inline top-level arguments.
	// +optional
	Arguments map[string]string `json:"arguments,omitempty" validate:"dive,keys,required,endkeys"`

	// ArgumentsFrom is the ordered list of references to ConfigMaps and Secrets
	// holding arguments, merged on top of the inline arguments.
	// +optional
	ArgumentsFrom []ArgumentsReference `json:"argumentsFrom,omitempty" validate:"dive"`

	// Vendor resolves the module dependencies before evaluation.
	// +optional
	Vendor bool `json:"vendor,omitempty"`

	// SortKeys orders the keys of the emitted documents.
	// +optional
	SortKeys bool `json:"sortKeys,omitempty"`

	// ShowHidden includes hidden attributes in the output.
	// +optional
	ShowHidden bool `json:"showHidden,omitempty"`
}

// KclInstanceStatus defines the observed state of a KclInstance.
type KclInstanceStatus struct {
	// ObservedGeneration is the last reconciled generation.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Phase is the state of the instance reconciliation.
	// +optional
	Phase Phase `json:"phase,omitempty"`

	// LastAttemptedRevision is the source revision of the last reconciliation attempt.
	// +optional
	LastAttemptedRevision string `json:"lastAttemptedRevision,omitempty"`

	// LastAppliedRevision is the source revision of the last successful reconciliation.
	// +optional
	LastAppliedRevision string `json:"lastAppliedRevision,omitempty"`

	// LastAppliedFingerprint is the digest of the rendered manifests
	// of the last successful reconciliation.
	// +optional
	LastAppliedFingerprint string `json:"lastAppliedFingerprint,omitempty"`

	// LastReconcileTime is the completion time of the last reconciliation attempt.
	// +optional
	LastReconcileTime *metav1.Time `json:"lastReconcileTime,omitempty"`

	// LastHandledReconcileAt holds the value of the most recent
	// reconcile request annotation value.
	// +optional
	LastHandledReconcileAt string `json:"lastHandledReconcileAt,omitempty"`

	// Inventory contains the list of Kubernetes resource object references
	// owned by this instance.
	// +optional
	Inventory *ResourceInventory `json:"inventory,omitempty"`

	// Conditions holds the conditions of the KclInstance.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// Phase is the coarse reconciliation state of a KclInstance.
type Phase string

const (
	PendingPhase     Phase = "Pending"
	ReconcilingPhase Phase = "Reconciling"
	ReadyPhase       Phase = "Ready"
	FailedPhase      Phase = "Failed"
	SuspendedPhase   Phase = "Suspended"
	FinalizingPhase  Phase = "Finalizing"
)

// KclInstance is the Schema for the kclinstances API.
// +kubebuilder:object:root=true
// +kubebuilder:resource:shortName=ki
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase",description=""
// +kubebuilder:printcolumn:name="Revision",type="string",JSONPath=".status.lastAppliedRevision",description=""
// +kubebuilder:printcolumn:name="Ready",type="string",JSONPath=".status.conditions[?(@.type==\"Ready\")].status",description=""
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp",description=""
type KclInstance struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec KclInstanceSpec `json:"spec,omitempty"`

	// +kubebuilder:default:={"observedGeneration":-1}
	Status KclInstanceStatus `json:"status,omitempty"`
}

// GetInterval returns the reconciliation interval, or the default when unset.
func (in *KclInstance) GetInterval() time.Duration {
	if in.Spec.Interval == nil || in.Spec.Interval.Duration <= 0 {
		return DefaultInterval
	}
	return in.Spec.Interval.Duration
}

// GetRetryInterval returns the retry interval for failed reconciliations.
func (in *KclInstance) GetRetryInterval() time.Duration {
	if in.Spec.RetryInterval != nil && in.Spec.RetryInterval.Duration > 0 {
		return in.Spec.RetryInterval.Duration
	}
	return in.GetInterval()
}

// GetTimeout returns the reconciliation timeout capped at max.
func (in *KclInstance) GetTimeout(max time.Duration) time.Duration {
	timeout := in.GetInterval()
	if in.Spec.Timeout != nil && in.Spec.Timeout.Duration > 0 {
		timeout = in.Spec.Timeout.Duration
	}
	if max > 0 && timeout > max {
		return max
	}
	return timeout
}

// GetConfig returns the render config with defaults applied.
func (in *KclInstance) GetConfig() KclInstanceConfig {
	if in.Spec.Config == nil {
		return KclInstanceConfig{
			Arguments:     map[string]string{},
			ArgumentsFrom: []ArgumentsReference{},
		}
	}
	cfg := *in.Spec.Config
	if cfg.Arguments == nil {
		cfg.Arguments = map[string]string{}
	}
	if cfg.ArgumentsFrom == nil {
		cfg.ArgumentsFrom = []ArgumentsReference{}
	}
	return cfg
}

// PruneEnabled reports whether stale resources should be deleted.
func (in *KclInstance) PruneEnabled() bool {
	return in.Spec.Prune == nil || *in.Spec.Prune
}

// GetSourceNamespace returns the namespace of the referenced source.
func (in *KclInstance) GetSourceNamespace() string {
	if in.Spec.SourceRef.Namespace != "" {
		return in.Spec.SourceRef.Namespace
	}
	return in.GetNamespace()
}

// GetInventory returns the inventory entries, never nil.
func (in *KclInstance) GetInventory() *ResourceInventory {
	if in.Status.Inventory == nil {
		return &ResourceInventory{Entries: []ResourceRef{}}
	}
	return in.Status.Inventory
}

// GetConditions returns the status conditions of the object.
func (in *KclInstance) GetConditions() []metav1.Condition {
	return in.Status.Conditions
}

// SetConditions sets the status conditions on the object.
func (in *KclInstance) SetConditions(conditions []metav1.Condition) {
	in.Status.Conditions = conditions
}

// KclInstanceList contains a list of KclInstance.
// +kubebuilder:object:root=true
type KclInstanceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []KclInstance `json:"items"`
}

func init() {
	SchemeBuilder.Register(&KclInstance{}, &KclInstanceList{})
}
