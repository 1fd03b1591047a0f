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

// Package render evaluates KCL modules into Kubernetes manifests.
package render

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// Options holds the render settings of an instance.
type Options struct {
	// Vendor resolves the module dependencies before evaluation.
	Vendor bool

	// SortKeys orders the keys of the emitted documents.
	SortKeys bool

	// ShowHidden includes hidden attributes in the output.
	ShowHidden bool
}

// OptionsFromConfig returns the render options of an instance config.
func OptionsFromConfig(cfg apiv1.KclInstanceConfig) Options {
	return Options{
		Vendor:     cfg.Vendor,
		SortKeys:   cfg.SortKeys,
		ShowHidden: cfg.ShowHidden,
	}
}

// Result holds the rendered objects in emission order
// and the digest of the raw renderer output.
type Result struct {
	Objects     []*unstructured.Unstructured
	Fingerprint string
}

// Renderer evaluates a module with the given top-level arguments.
type Renderer interface {
	Render(ctx context.Context, modulePath string, args map[string]string, opts Options) (*Result, error)
}

// Error is returned when a module fails to compile or evaluate.
type Error struct {
	Err error

	// Diagnostic holds the renderer output describing the failure.
	Diagnostic string

	transient bool
}

func (e *Error) Error() string {
	if e.Diagnostic == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Diagnostic)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns the condition reason matching the failure.
func (e *Error) Reason() string {
	return apiv1.RenderErrorReason
}

// Transient reports whether the failure was caused by a cancellation
// or timeout rather than by the module itself.
func (e *Error) Transient() bool {
	return e.transient
}
