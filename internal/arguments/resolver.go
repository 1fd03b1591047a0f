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

// Package arguments resolves the top-level arguments passed to the KCL
// renderer from the inline config and the referenced ConfigMaps and Secrets.
package arguments

import (
	"context"
	"fmt"
	"maps"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

// Resolver reads arguments references from the cluster and
// merges them on top of the inline arguments.
type Resolver struct {
	reader client.Reader
}

// NewResolver creates a resolver backed by the given client.
func NewResolver(reader client.Reader) *Resolver {
	return &Resolver{
		reader: reader,
	}
}

// Resolve returns the merged arguments for the given config.
// References are processed in order, later values overwrite earlier ones
// at the top-level key granularity. The references are looked up in the
// given namespace.
func (r *Resolver) Resolve(ctx context.Context, namespace string, cfg apiv1.KclInstanceConfig) (map[string]string, error) {
	result := make(map[string]string, len(cfg.Arguments))
	maps.Copy(result, cfg.Arguments)

	for _, ref := range cfg.ArgumentsFrom {
		data, err := r.getData(ctx, namespace, ref)
		if err != nil {
			if apierrors.IsNotFound(err) {
				if ref.Optional {
					continue
				}
				return nil, notFoundError(ref, err)
			}
			return nil, fmt.Errorf("failed to get %s: %w", ref.String(), err)
		}

		raw, ok := data[ref.GetArgumentsKey()]
		if !ok {
			return nil, keyMissingError(ref)
		}

		if ref.TargetPath == "" {
			values, err := ParseMapping(ref.GetArgumentsKey(), raw)
			if err != nil {
				return nil, malformedError(ref, err)
			}
			maps.Copy(result, values)
			continue
		}

		value, err := ParseScalar(ref.GetArgumentsKey(), raw)
		if err != nil {
			return nil, malformedError(ref, err)
		}
		result[ref.TargetPath] = value
	}

	return result, nil
}

func (r *Resolver) getData(ctx context.Context, namespace string, ref apiv1.ArgumentsReference) (map[string][]byte, error) {
	key := client.ObjectKey{Namespace: namespace, Name: ref.Name}
	switch ref.Kind {
	case apiv1.ConfigMapKind:
		cm := &corev1.ConfigMap{}
		if err := r.reader.Get(ctx, key, cm); err != nil {
			return nil, err
		}
		data := make(map[string][]byte, len(cm.Data)+len(cm.BinaryData))
		for k, v := range cm.BinaryData {
			data[k] = v
		}
		for k, v := range cm.Data {
			data[k] = []byte(v)
		}
		return data, nil
	case apiv1.SecretKind:
		secret := &corev1.Secret{}
		if err := r.reader.Get(ctx, key, secret); err != nil {
			return nil, err
		}
		data := make(map[string][]byte, len(secret.Data)+len(secret.StringData))
		for k, v := range secret.Data {
			data[k] = v
		}
		for k, v := range secret.StringData {
			if _, ok := data[k]; !ok {
				data[k] = []byte(v)
			}
		}
		return data, nil
	default:
		return nil, malformedError(ref, fmt.Errorf("unsupported kind '%s'", ref.Kind))
	}
}
