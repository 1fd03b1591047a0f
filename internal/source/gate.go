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
	"time"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// ReconcileWarranted reports whether the instance needs a new cycle
// for the given artifact, and why.
func ReconcileWarranted(instance *apiv1.KclInstance, artifact *Artifact, now time.Time) (bool, string) {
	status := instance.Status

	switch {
	case status.LastReconcileTime == nil:
		return true, "first reconciliation"
	case instance.GetGeneration() != status.ObservedGeneration:
		return true, "spec changed"
	case status.Phase == apiv1.SuspendedPhase && !instance.Spec.Suspend:
		return true, "resumed"
	case artifact != nil && artifact.Revision != status.LastAttemptedRevision:
		return true, "new revision " + artifact.Revision
	}

	if requestedAt, ok := ReconcileRequested(instance); ok {
		return true, "requested at " + requestedAt
	}

	if NextCheck(instance, now) <= 0 {
		return true, "drift detection"
	}

	return false, ""
}

// ReconcileRequested returns the value of the reconcile request annotation
// when it hasn't been handled yet.
func ReconcileRequested(instance *apiv1.KclInstance) (string, bool) {
	requestedAt, ok := instance.GetAnnotations()[apiv1.ReconcileRequestAnnotation]
	if !ok || requestedAt == "" || requestedAt == instance.Status.LastHandledReconcileAt {
		return "", false
	}
	return requestedAt, true
}

// NextCheck returns the time left until the next drift check.
// Failed instances are checked at the retry interval.
func NextCheck(instance *apiv1.KclInstance, now time.Time) time.Duration {
	period := instance.GetInterval()
	if instance.Status.Phase == apiv1.FailedPhase {
		period = instance.GetRetryInterval()
	}

	if instance.Status.LastReconcileTime == nil {
		return 0
	}

	left := instance.Status.LastReconcileTime.Add(period).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
