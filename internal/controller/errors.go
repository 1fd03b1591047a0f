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

package controller

import (
	"errors"
	"fmt"
	"time"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
	"github.com/evrone/kcl-controller/internal/runtime"
)

type reasonError struct {
	reason string
	err    error
}

func (e *reasonError) Error() string {
	return e.err.Error()
}

func (e *reasonError) Unwrap() error {
	return e.err
}

func (e *reasonError) Reason() string {
	return e.reason
}

// timeoutError is returned when a reconciliation exceeds the instance timeout.
type timeoutError struct {
	timeout time.Duration
	err     error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("reconciliation timed out after %s: %s", e.timeout, e.err.Error())
}

func (e *timeoutError) Unwrap() error {
	return e.err
}

func (e *timeoutError) Reason() string {
	return apiv1.TimeoutReason
}

func (e *timeoutError) Transient() bool {
	return true
}

// classify returns the condition reason of a reconciliation failure and
// whether it should be retried with backoff. Errors without a reason come
// from reading the cluster state and are considered transient.
func classify(err error) (reason string, transient bool) {
	var r interface{ Reason() string }
	hasReason := errors.As(err, &r)

	reason = apiv1.TransientErrorReason
	if hasReason {
		reason = r.Reason()
	}

	var t interface{ Transient() bool }
	switch {
	case errors.As(err, &t):
		transient = t.Transient()
	case hasReason:
		transient = runtime.IsTransient(err)
	default:
		transient = true
	}

	return reason, transient
}
