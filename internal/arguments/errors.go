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

package arguments

import (
	"fmt"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// ReferenceError is returned when an arguments reference can't be resolved.
// Reference errors are never transient, retrying won't fix them
// until the referenced object or the instance spec changes.
type ReferenceError struct {
	reason string
	Ref    apiv1.ArgumentsReference
	Err    error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Ref.String(), e.Err)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// Reason returns the condition reason matching the failure.
func (e *ReferenceError) Reason() string {
	return e.reason
}

func notFoundError(ref apiv1.ArgumentsReference, err error) *ReferenceError {
	return &ReferenceError{reason: apiv1.ReferenceNotFoundReason, Ref: ref, Err: err}
}

func keyMissingError(ref apiv1.ArgumentsReference) *ReferenceError {
	return &ReferenceError{
		reason: apiv1.ReferenceKeyMissingReason,
		Ref:    ref,
		Err:    fmt.Errorf("key '%s' not found", ref.GetArgumentsKey()),
	}
}

func malformedError(ref apiv1.ArgumentsReference, err error) *ReferenceError {
	return &ReferenceError{reason: apiv1.ReferenceMalformedReason, Ref: ref, Err: err}
}
