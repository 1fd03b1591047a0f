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

package apply

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	kerrors "k8s.io/apimachinery/pkg/util/errors"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
	"github.com/evrone/kcl-controller/internal/runtime"
)

// Error aggregates the per-object failures of a reconciliation.
type Error struct {
	reason    string
	errs      []error
	transient bool
}

func (e *Error) Error() string {
	return kerrors.NewAggregate(e.errs).Error()
}

// Errors returns the per-object failures.
func (e *Error) Errors() []error {
	return e.errs
}

// Reason returns ApplyError when at least one object failed to apply
// or failed validation, and PruneError when only deletions failed.
func (e *Error) Reason() string {
	return e.reason
}

// Transient reports whether all the failures may succeed on retry.
func (e *Error) Transient() bool {
	return e.transient
}

func newError(applyErrs, pruneErrs []error) error {
	errs := append(append([]error{}, applyErrs...), pruneErrs...)
	if len(errs) == 0 {
		return nil
	}

	reason := apiv1.PruneErrorReason
	if len(applyErrs) > 0 {
		reason = apiv1.ApplyErrorReason
	}

	transient := true
	for _, err := range errs {
		if !runtime.IsTransient(err) {
			transient = false
			break
		}
	}

	return &Error{reason: reason, errs: errs, transient: transient}
}

func newValidationError(errs []error) error {
	return &Error{reason: apiv1.ApplyErrorReason, errs: errs}
}

// OwnershipConflictError is returned when an object is already
// managed by another instance.
type OwnershipConflictError struct {
	Subject        string
	OwnerName      string
	OwnerNamespace string
}

func (e *OwnershipConflictError) Error() string {
	return fmt.Sprintf("%s ownership conflict: managed by %s %s/%s",
		e.Subject, apiv1.InstanceKind, e.OwnerNamespace, e.OwnerName)
}

func validateIdentity(obj *unstructured.Unstructured) error {
	var missing []string
	if obj.GetAPIVersion() == "" {
		missing = append(missing, "apiVersion")
	}
	if obj.GetKind() == "" {
		missing = append(missing, "kind")
	}
	if obj.GetName() == "" {
		missing = append(missing, "metadata.name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	gv, err := schema.ParseGroupVersion(obj.GetAPIVersion())
	if err != nil {
		return fmt.Errorf("invalid apiVersion '%s': %w", obj.GetAPIVersion(), err)
	}
	if gv.Version == "" {
		return fmt.Errorf("invalid apiVersion '%s'", obj.GetAPIVersion())
	}

	return nil
}
