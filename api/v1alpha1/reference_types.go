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

// SourceReference contains enough information to locate the Flux source
// holding the KCL module artifact.
type SourceReference struct {
	// API version of the referent.
	// +optional
	APIVersion string `json:"apiVersion,omitempty" validate:"omitempty,contains=/"`

	// Kind of the referent.
	// +kubebuilder:validation:Enum=GitRepository;OCIRepository
	// +required
	Kind string `json:"kind" validate:"required,oneof=GitRepository OCIRepository"`

	// Name of the referent.
	// +kubebuilder:validation:MinLength=1
	// +required
	Name string `json:"name" validate:"required,max=253"`

	// Namespace of the referent, defaults to the namespace of the KclInstance.
	// +optional
	Namespace string `json:"namespace,omitempty" validate:"omitempty,max=63"`
}

// GetAPIVersion returns the referent API version or the Flux default.
func (s SourceReference) GetAPIVersion() string {
	if s.APIVersion != "" {
		return s.APIVersion
	}
	return DefaultSourceAPIVersion
}

// String returns the reference in the format '<kind>/<namespace>/<name>'
// or '<kind>/<name>' when the namespace is unset.
func (s SourceReference) String() string {
	if s.Namespace != "" {
		return s.Kind + "/" + s.Namespace + "/" + s.Name
	}
	return s.Kind + "/" + s.Name
}

// ArgumentsReference contains a reference to a resource containing
// the arguments of a KclInstance.
type ArgumentsReference struct {
	// Kind of the arguments referent, valid values are ('Secret', 'ConfigMap').
	// +kubebuilder:validation:Enum=Secret;ConfigMap
	// +required
	Kind string `json:"kind" validate:"required,oneof=ConfigMap Secret"`

	// Name of the arguments referent. Should reside in the same namespace as the
	// referring resource.
	// +kubebuilder:validation:MinLength=1
	// +required
	Name string `json:"name" validate:"required,max=253"`

	// ArgumentsKey is the data key where the arguments.yaml or a specific value can be
	// found at. Defaults to 'arguments.yaml'.
	// +optional
	ArgumentsKey string `json:"argumentsKey,omitempty" validate:"omitempty,max=253"`

	// TargetPath is the YAML dot notation path the value should be merged at. When
	// set, the ArgumentsKey is expected to be a single flat value. Defaults to 'None',
	// which results in the arguments getting merged at the root.
	// +optional
	TargetPath string `json:"targetPath,omitempty"`

	// Optional marks this ArgumentsReference as optional. When set, a not found error
	// for the arguments reference is ignored, but any ArgumentsKey, TargetPath or
	// transient error will still result in a reconciliation failure.
	// +optional
	Optional bool `json:"optional,omitempty"`
}

// GetArgumentsKey returns the data key or the default.
func (r ArgumentsReference) GetArgumentsKey() string {
	if r.ArgumentsKey == "" {
		return DefaultArgumentsKey
	}
	return r.ArgumentsKey
}

// String returns the reference in the format '<kind>/<name>'.
func (r ArgumentsReference) String() string {
	return r.Kind + "/" + r.Name
}
