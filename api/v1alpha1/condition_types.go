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

const (
	// ReadyCondition indicates the instance has been fully reconciled.
	ReadyCondition string = "Ready"

	// ReconcilingCondition indicates a reconciliation is in progress.
	ReconcilingCondition string = "Reconciling"
)

// Condition reasons.
const (
	ReconciliationSucceededReason = "ReconciliationSucceeded"
	ProgressingReason             = "Progressing"
	SuspendedReason               = "Suspended"
	FinalizingReason              = "Finalizing"
	ValidationFailedReason        = "ValidationFailed"
	SourceNotFoundReason          = "SourceNotFound"
	SourceNotReadyReason          = "SourceNotReady"
	ArtifactFailedReason          = "ArtifactFailed"
	ReferenceNotFoundReason       = "ReferenceNotFound"
	ReferenceKeyMissingReason     = "ReferenceKeyMissing"
	ReferenceMalformedReason      = "ReferenceMalformed"
	RenderErrorReason             = "RenderError"
	ApplyErrorReason              = "ApplyError"
	PruneErrorReason              = "PruneError"
	TimeoutReason                 = "Timeout"
	TransientErrorReason          = "TransientError"
)
