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

package testutils

import (
	"context"
	"maps"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/evrone/kcl-controller/internal/render"
)

// FakeRenderer returns a fixed set of objects and records its invocations.
type FakeRenderer struct {
	mu sync.Mutex

	objects     []*unstructured.Unstructured
	fingerprint string
	err         error

	calls    int
	lastArgs map[string]string
	lastOpts render.Options
}

// NewFakeRenderer returns a renderer emitting copies of the given objects.
func NewFakeRenderer(fingerprint string, objects ...*unstructured.Unstructured) *FakeRenderer {
	return &FakeRenderer{
		objects:     objects,
		fingerprint: fingerprint,
	}
}

// SetOutput replaces the rendered objects.
func (r *FakeRenderer) SetOutput(fingerprint string, objects ...*unstructured.Unstructured) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fingerprint = fingerprint
	r.objects = objects
	r.err = nil
}

// SetError makes the next renders fail with err.
func (r *FakeRenderer) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Calls returns the number of Render invocations.
func (r *FakeRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// LastArgs returns the arguments of the last Render invocation.
func (r *FakeRenderer) LastArgs() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastArgs
}

// LastOptions returns the options of the last Render invocation.
func (r *FakeRenderer) LastOptions() render.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOpts
}

func (r *FakeRenderer) Render(_ context.Context, _ string, args map[string]string, opts render.Options) (*render.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	r.lastArgs = maps.Clone(args)
	r.lastOpts = opts
	if r.err != nil {
		return nil, r.err
	}

	objects := make([]*unstructured.Unstructured, 0, len(r.objects))
	for _, obj := range r.objects {
		objects = append(objects, obj.DeepCopy())
	}
	return &render.Result{Objects: objects, Fingerprint: r.fingerprint}, nil
}

// NewObject returns an object with the given identity and data.
func NewObject(apiVersion, kind, namespace, name string, data map[string]interface{}) *unstructured.Unstructured {
	u := &unstructured.Unstructured{Object: map[string]interface{}{}}
	u.SetAPIVersion(apiVersion)
	u.SetKind(kind)
	u.SetNamespace(namespace)
	u.SetName(name)
	if data != nil {
		u.Object["data"] = data
	}
	return u
}
