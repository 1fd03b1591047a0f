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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fluxcd/pkg/ssa"
	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
	"github.com/evrone/kcl-controller/internal/apply"
	"github.com/evrone/kcl-controller/internal/arguments"
	"github.com/evrone/kcl-controller/internal/logger"
	"github.com/evrone/kcl-controller/internal/metrics"
	"github.com/evrone/kcl-controller/internal/render"
	"github.com/evrone/kcl-controller/internal/runtime"
	"github.com/evrone/kcl-controller/internal/source"
	"github.com/evrone/kcl-controller/pkg/inventory"
)

// ArtifactFetcher retrieves source artifacts and prepares a private
// copy of the module for each reconciliation.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, artifact *source.Artifact, namespace, name string) (string, error)
	Workspace(artifactDir, modulePath string) (root, module string, cleanup func(), err error)
}

// WriterFactory returns the cluster writer used to apply the objects of an instance.
type WriterFactory func(instance *apiv1.KclInstance, timeout time.Duration) apply.Writer

// KclInstanceReconciler reconciles KclInstance objects.
type KclInstanceReconciler struct {
	client.Client

	EventRecorder record.EventRecorder
	Watcher       *source.Watcher
	Resolver      *arguments.Resolver
	Fetcher       ArtifactFetcher
	Renderer      render.Renderer
	NewWriter     WriterFactory
	Metrics       *metrics.Recorder

	// MaxTimeout caps the timeout of a single reconciliation.
	MaxTimeout time.Duration

	// ColorizeLog formats the change set entries with colors.
	ColorizeLog bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// +kubebuilder:rbac:groups=kcl.evrone.com,resources=kclinstances,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=kcl.evrone.com,resources=kclinstances/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=kcl.evrone.com,resources=kclinstances/finalizers,verbs=update
// +kubebuilder:rbac:groups=source.toolkit.fluxcd.io,resources=gitrepositories;ocirepositories,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=configmaps;secrets,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

func (r *KclInstanceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := ctrl.LoggerFrom(ctx)

	obj := &apiv1.KclInstance{}
	if err := r.Get(ctx, req.NamespacedName, obj); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	if !obj.GetDeletionTimestamp().IsZero() {
		return r.finalize(ctx, obj)
	}

	if !controllerutil.ContainsFinalizer(obj, apiv1.Finalizer) {
		patch := client.MergeFrom(obj.DeepCopy())
		controllerutil.AddFinalizer(obj, apiv1.Finalizer)
		if err := r.Patch(ctx, obj, patch); err != nil {
			return ctrl.Result{}, fmt.Errorf("failed to add finalizer: %w", err)
		}
	}

	if obj.Spec.Suspend {
		return r.suspend(ctx, obj)
	}

	start := r.now()

	if err := validateInstance(obj); err != nil {
		return r.fail(ctx, obj, start, "", nil, err)
	}

	artifact, err := r.Watcher.GetArtifact(ctx, obj)
	if err != nil {
		return r.fail(ctx, obj, start, "", nil, err)
	}

	warranted, why := source.ReconcileWarranted(obj, artifact, start)
	if !warranted {
		next := source.NextCheck(obj, start)
		log.V(1).Info("reconciliation skipped", "revision", artifact.Revision, "next", next.String())
		r.Metrics.RecordDuration(obj.Namespace, obj.Name, metrics.ResultSkipped, start)
		return ctrl.Result{RequeueAfter: next}, nil
	}

	log.Info(fmt.Sprintf("reconciling revision %s", r.colorize(logger.ColorizeRevision, artifact.Revision)), "trigger", why)
	if err := r.progressing(ctx, obj, artifact.Revision, why); err != nil {
		return ctrl.Result{}, err
	}

	timeout := obj.GetTimeout(r.MaxTimeout)
	cycleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := r.reconcile(cycleCtx, obj, artifact, timeout)
	if res.changeSet != nil {
		r.logChangeSet(log, res.changeSet)
		r.Metrics.RecordChangeSet(obj.Namespace, obj.Name, res.changeSet)
	}
	if err != nil {
		if cycleCtx.Err() != nil && ctx.Err() == nil {
			err = &timeoutError{timeout: timeout, err: err}
		}
		return r.fail(ctx, obj, start, artifact.Revision, res.inventory, err)
	}

	return r.succeed(ctx, obj, start, artifact.Revision, res)
}

type cycleResult struct {
	inventory   *inventory.Inventory
	changeSet   *ssa.ChangeSet
	fingerprint string
}

// reconcile runs the fetch, resolve, render and apply phases,
// checking for cancellation between them.
func (r *KclInstanceReconciler) reconcile(ctx context.Context, obj *apiv1.KclInstance, artifact *source.Artifact, timeout time.Duration) (*cycleResult, error) {
	res := &cycleResult{}

	artifactDir, err := r.Fetcher.Fetch(ctx, artifact, obj.GetSourceNamespace(), obj.Spec.SourceRef.Name)
	if err != nil {
		return res, err
	}

	_, modulePath, cleanup, err := r.Fetcher.Workspace(artifactDir, obj.Spec.Path)
	if err != nil {
		return res, err
	}
	defer cleanup()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	cfg := obj.GetConfig()
	args, err := r.Resolver.Resolve(ctx, obj.GetNamespace(), cfg)
	if err != nil {
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	rendered, err := r.Renderer.Render(ctx, modulePath, args, render.OptionsFromConfig(cfg))
	if err != nil {
		return res, err
	}
	res.fingerprint = rendered.Fingerprint

	if err := ctx.Err(); err != nil {
		return res, err
	}

	previous, err := inventory.FromStatus(obj.Status.Inventory)
	if err != nil {
		return res, &reasonError{reason: apiv1.ApplyErrorReason, err: fmt.Errorf("invalid inventory: %w", err)}
	}

	engine := apply.NewEngine(r.NewWriter(obj, timeout), apply.Options{
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
		Prune:     obj.PruneEnabled(),
	})
	applied, err := engine.Reconcile(ctx, rendered.Objects, previous)
	if applied != nil {
		res.inventory = applied.Inventory
		res.changeSet = applied.ChangeSet
	}
	return res, err
}

func (r *KclInstanceReconciler) suspend(ctx context.Context, obj *apiv1.KclInstance) (ctrl.Result, error) {
	if obj.Status.Phase == apiv1.SuspendedPhase {
		return ctrl.Result{}, nil
	}

	patch := client.MergeFrom(obj.DeepCopy())
	obj.Status.Phase = apiv1.SuspendedPhase
	apimeta.RemoveStatusCondition(&obj.Status.Conditions, apiv1.ReconcilingCondition)
	if err := r.Status().Patch(ctx, obj, patch); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to update status: %w", err)
	}

	ctrl.LoggerFrom(ctx).Info("reconciliation suspended")
	r.event(obj, corev1.EventTypeNormal, apiv1.SuspendedReason, "Reconciliation suspended")
	return ctrl.Result{}, nil
}

func (r *KclInstanceReconciler) progressing(ctx context.Context, obj *apiv1.KclInstance, revision, why string) error {
	patch := client.MergeFrom(obj.DeepCopy())
	obj.Status.Phase = apiv1.ReconcilingPhase
	msg := fmt.Sprintf("Reconciling revision %s: %s", revision, why)
	apimeta.SetStatusCondition(&obj.Status.Conditions, metav1.Condition{
		Type:               apiv1.ReconcilingCondition,
		Status:             metav1.ConditionTrue,
		Reason:             apiv1.ProgressingReason,
		Message:            msg,
		ObservedGeneration: obj.Generation,
	})
	if apimeta.FindStatusCondition(obj.Status.Conditions, apiv1.ReadyCondition) == nil {
		apimeta.SetStatusCondition(&obj.Status.Conditions, metav1.Condition{
			Type:               apiv1.ReadyCondition,
			Status:             metav1.ConditionUnknown,
			Reason:             apiv1.ProgressingReason,
			Message:            msg,
			ObservedGeneration: obj.Generation,
		})
	}
	if err := r.Status().Patch(ctx, obj, patch); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

func (r *KclInstanceReconciler) succeed(ctx context.Context, obj *apiv1.KclInstance, start time.Time, revision string, res *cycleResult) (ctrl.Result, error) {
	log := ctrl.LoggerFrom(ctx)

	patch := client.MergeFrom(obj.DeepCopy())
	requestedAt, _ := source.ReconcileRequested(obj)
	changed := revision != obj.Status.LastAppliedRevision || hasChanges(res.changeSet)

	obj.Status.Phase = apiv1.ReadyPhase
	obj.Status.ObservedGeneration = obj.Generation
	obj.Status.LastAttemptedRevision = revision
	obj.Status.LastAppliedRevision = revision
	obj.Status.LastAppliedFingerprint = res.fingerprint
	obj.Status.LastReconcileTime = &metav1.Time{Time: r.now()}
	if res.inventory != nil {
		obj.Status.Inventory = res.inventory.ToStatus()
	}
	if requestedAt != "" {
		obj.Status.LastHandledReconcileAt = requestedAt
	}
	msg := fmt.Sprintf("Applied revision: %s", revision)
	apimeta.RemoveStatusCondition(&obj.Status.Conditions, apiv1.ReconcilingCondition)
	apimeta.SetStatusCondition(&obj.Status.Conditions, metav1.Condition{
		Type:               apiv1.ReadyCondition,
		Status:             metav1.ConditionTrue,
		Reason:             apiv1.ReconciliationSucceededReason,
		Message:            msg,
		ObservedGeneration: obj.Generation,
	})
	if err := r.Status().Patch(ctx, obj, patch); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to update status: %w", err)
	}

	r.Metrics.RecordReady(obj.Namespace, obj.Name, true)
	r.Metrics.RecordInventory(obj.Namespace, obj.Name, len(obj.GetInventory().Entries))
	r.Metrics.RecordDuration(obj.Namespace, obj.Name, metrics.ResultSuccess, start)

	if changed {
		r.event(obj, corev1.EventTypeNormal, apiv1.ReconciliationSucceededReason, changeSummary(msg, res.changeSet))
	}
	log.Info(fmt.Sprintf("reconciliation finished in %s", time.Since(start).Round(time.Millisecond)),
		"revision", revision, "next", obj.GetInterval().String())

	return ctrl.Result{RequeueAfter: obj.GetInterval()}, nil
}

// fail records a failed reconciliation. Transient failures don't advance
// the observed generation, revision and reconcile time, and are returned
// to be retried with backoff. A non-nil inv replaces the recorded inventory.
func (r *KclInstanceReconciler) fail(ctx context.Context, obj *apiv1.KclInstance, start time.Time, revision string, inv *inventory.Inventory, cause error) (ctrl.Result, error) {
	log := ctrl.LoggerFrom(ctx)
	reason, transient := classify(cause)

	patch := client.MergeFrom(obj.DeepCopy())
	if inv != nil {
		obj.Status.Inventory = inv.ToStatus()
	}
	if transient {
		obj.Status.Phase = apiv1.ReconcilingPhase
		apimeta.SetStatusCondition(&obj.Status.Conditions, metav1.Condition{
			Type:               apiv1.ReconcilingCondition,
			Status:             metav1.ConditionTrue,
			Reason:             reason,
			Message:            "Retrying after transient failure",
			ObservedGeneration: obj.Generation,
		})
	} else {
		obj.Status.Phase = apiv1.FailedPhase
		obj.Status.ObservedGeneration = obj.Generation
		obj.Status.LastReconcileTime = &metav1.Time{Time: r.now()}
		if revision != "" {
			obj.Status.LastAttemptedRevision = revision
		}
		if requestedAt, ok := source.ReconcileRequested(obj); ok {
			obj.Status.LastHandledReconcileAt = requestedAt
		}
		apimeta.RemoveStatusCondition(&obj.Status.Conditions, apiv1.ReconcilingCondition)
	}
	apimeta.SetStatusCondition(&obj.Status.Conditions, metav1.Condition{
		Type:               apiv1.ReadyCondition,
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            trimMessage(cause.Error()),
		ObservedGeneration: obj.Generation,
	})

	if err := r.Status().Patch(ctx, obj, patch); err != nil {
		return ctrl.Result{}, kerrors.NewAggregate([]error{cause, fmt.Errorf("failed to update status: %w", err)})
	}

	r.Metrics.RecordReady(obj.Namespace, obj.Name, false)
	r.Metrics.RecordInventory(obj.Namespace, obj.Name, len(obj.GetInventory().Entries))
	r.event(obj, corev1.EventTypeWarning, reason, trimMessage(cause.Error()))

	if transient {
		r.Metrics.RecordDuration(obj.Namespace, obj.Name, metrics.ResultTransient, start)
		log.Error(cause, "reconciliation failed, retrying", "reason", reason)
		return ctrl.Result{}, cause
	}

	r.Metrics.RecordDuration(obj.Namespace, obj.Name, metrics.ResultFailure, start)
	log.Error(cause, "reconciliation failed", "reason", reason, "retryAfter", obj.GetRetryInterval().String())
	return ctrl.Result{RequeueAfter: obj.GetRetryInterval()}, nil
}

// finalize deletes the objects of the inventory and removes the finalizer
// once all of them are gone.
func (r *KclInstanceReconciler) finalize(ctx context.Context, obj *apiv1.KclInstance) (ctrl.Result, error) {
	log := ctrl.LoggerFrom(ctx)
	if !controllerutil.ContainsFinalizer(obj, apiv1.Finalizer) {
		return ctrl.Result{}, nil
	}

	patch := client.MergeFrom(obj.DeepCopy())
	obj.Status.Phase = apiv1.FinalizingPhase
	apimeta.SetStatusCondition(&obj.Status.Conditions, metav1.Condition{
		Type:               apiv1.ReadyCondition,
		Status:             metav1.ConditionFalse,
		Reason:             apiv1.FinalizingReason,
		Message:            "Deleting the managed objects",
		ObservedGeneration: obj.Generation,
	})

	var deleted int
	if obj.PruneEnabled() {
		previous, err := inventory.FromStatus(obj.Status.Inventory)
		if err != nil {
			return ctrl.Result{}, fmt.Errorf("invalid inventory: %w", err)
		}

		timeout := obj.GetTimeout(r.MaxTimeout)
		drainCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		engine := apply.NewEngine(r.NewWriter(obj, timeout), apply.Options{
			Name:      obj.GetName(),
			Namespace: obj.GetNamespace(),
			Prune:     true,
		})
		res, drainErr := engine.Drain(drainCtx, previous)
		r.logChangeSet(log, res.ChangeSet)
		obj.Status.Inventory = res.Inventory.ToStatus()
		deleted = len(runtime.SelectObjectsFromSet(res.ChangeSet, ssa.DeletedAction))

		if drainErr != nil {
			apimeta.SetStatusCondition(&obj.Status.Conditions, metav1.Condition{
				Type:               apiv1.ReadyCondition,
				Status:             metav1.ConditionFalse,
				Reason:             apiv1.PruneErrorReason,
				Message:            trimMessage(drainErr.Error()),
				ObservedGeneration: obj.Generation,
			})
			if err := r.Status().Patch(ctx, obj, patch); err != nil {
				return ctrl.Result{}, kerrors.NewAggregate([]error{drainErr, err})
			}
			r.event(obj, corev1.EventTypeWarning, apiv1.PruneErrorReason, trimMessage(drainErr.Error()))
			if _, transient := classify(drainErr); transient {
				return ctrl.Result{}, drainErr
			}
			log.Error(drainErr, "finalization failed", "retryAfter", obj.GetRetryInterval().String())
			return ctrl.Result{RequeueAfter: obj.GetRetryInterval()}, nil
		}
	}

	if err := r.Status().Patch(ctx, obj, patch); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to update status: %w", err)
	}

	finalizerPatch := client.MergeFrom(obj.DeepCopy())
	controllerutil.RemoveFinalizer(obj, apiv1.Finalizer)
	if err := r.Patch(ctx, obj, finalizerPatch); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	r.Metrics.Delete(obj.Namespace, obj.Name)
	r.event(obj, corev1.EventTypeNormal, apiv1.FinalizingReason, fmt.Sprintf("Deleted %d managed objects", deleted))
	log.Info("finalization completed", "deleted", deleted)
	return ctrl.Result{}, nil
}

func (r *KclInstanceReconciler) event(obj *apiv1.KclInstance, eventType, reason, msg string) {
	if r.EventRecorder == nil {
		return
	}
	r.EventRecorder.AnnotatedEventf(obj, map[string]string{
		apiv1.GroupVersion.Group + "/revision": obj.Status.LastAttemptedRevision,
	}, eventType, reason, "%s", msg)
}

func (r *KclInstanceReconciler) logChangeSet(log logr.Logger, cs *ssa.ChangeSet) {
	if cs == nil {
		return
	}
	for _, entry := range cs.Entries {
		l := log
		if entry.Action == ssa.UnchangedAction {
			l = log.V(1)
		}
		if r.ColorizeLog {
			l.Info(logger.ColorizeChangeSetEntry(entry))
			continue
		}
		l.Info(entry.String())
	}
}

func (r *KclInstanceReconciler) colorize(fn func(string) string, s string) string {
	if r.ColorizeLog {
		return fn(s)
	}
	return s
}

func (r *KclInstanceReconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func hasChanges(cs *ssa.ChangeSet) bool {
	if cs == nil {
		return false
	}
	for _, entry := range cs.Entries {
		if entry.Action != ssa.UnchangedAction {
			return true
		}
	}
	return false
}

func changeSummary(header string, cs *ssa.ChangeSet) string {
	var sb strings.Builder
	sb.WriteString(header)
	if cs == nil {
		return sb.String()
	}
	for _, entry := range cs.Entries {
		if entry.Action == ssa.UnchangedAction {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(entry.String())
	}
	return trimMessage(sb.String())
}

const maxMessageSize = 1024

func trimMessage(msg string) string {
	if len(msg) <= maxMessageSize {
		return msg
	}
	return msg[:maxMessageSize-3] + "..."
}
