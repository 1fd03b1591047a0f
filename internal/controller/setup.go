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
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
	"github.com/evrone/kcl-controller/internal/source"
)

// Options holds the controller settings.
type Options struct {
	MaxConcurrentReconciles int
	MinRetryDelay           time.Duration
	MaxRetryDelay           time.Duration

	// WatchSources enables the watches on the Flux source kinds.
	WatchSources bool
}

// SetupWithManager registers the source index and the watches of the controller.
func (r *KclInstanceReconciler) SetupWithManager(ctx context.Context, mgr ctrl.Manager, opts Options) error {
	if err := mgr.GetFieldIndexer().IndexField(ctx, &apiv1.KclInstance{}, source.IndexKey, source.IndexBySource); err != nil {
		return fmt.Errorf("failed to set index field: %w", err)
	}

	b := ctrl.NewControllerManagedBy(mgr).
		For(&apiv1.KclInstance{}, builder.WithPredicates(
			predicate.Or(predicate.GenerationChangedPredicate{}, predicate.AnnotationChangedPredicate{}),
		)).
		WithOptions(controller.Options{
			MaxConcurrentReconciles: opts.MaxConcurrentReconciles,
			RateLimiter:             workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](opts.MinRetryDelay, opts.MaxRetryDelay),
		})

	if opts.WatchSources {
		gv := source.DefaultGroupVersion()
		for _, kind := range []string{apiv1.GitRepositoryKind, apiv1.OCIRepositoryKind} {
			src := &unstructured.Unstructured{}
			src.SetGroupVersionKind(gv.WithKind(kind))
			b = b.Watches(src,
				handler.EnqueueRequestsFromMapFunc(r.requestsForSource(kind)),
				builder.WithPredicates(source.RevisionChangePredicate{}),
			)
		}
	}

	return b.Complete(r)
}

// requestsForSource maps a source event to the instances referencing it.
func (r *KclInstanceReconciler) requestsForSource(kind string) handler.MapFunc {
	return func(ctx context.Context, obj client.Object) []reconcile.Request {
		var list apiv1.KclInstanceList
		if err := r.List(ctx, &list, client.MatchingFields{
			source.IndexKey: source.SourceIndexKey(kind, obj.GetNamespace(), obj.GetName()),
		}); err != nil {
			ctrl.LoggerFrom(ctx).Error(err, "failed to list instances for source", "source", kind+"/"+obj.GetNamespace()+"/"+obj.GetName())
			return nil
		}

		reqs := make([]reconcile.Request, 0, len(list.Items))
		for _, item := range list.Items {
			reqs = append(reqs, reconcile.Request{
				NamespacedName: types.NamespacedName{Namespace: item.Namespace, Name: item.Name},
			})
		}
		return reqs
	}
}
