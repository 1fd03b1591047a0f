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

package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/gomega"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

type classified struct {
	transient bool
}

func (c *classified) Error() string   { return "classified" }
func (c *classified) Transient() bool { return c.transient }

func TestIsTransient(t *testing.T) {
	gr := schema.GroupResource{Group: "apps", Resource: "deployments"}

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "deadline", err: fmt.Errorf("apply: %w", context.DeadlineExceeded), expected: true},
		{name: "server timeout", err: apierrors.NewServerTimeout(gr, "patch", 1), expected: true},
		{name: "too many requests", err: apierrors.NewTooManyRequests("slow down", 1), expected: true},
		{name: "not found", err: apierrors.NewNotFound(gr, "app"), expected: false},
		{name: "invalid", err: apierrors.NewBadRequest("invalid"), expected: false},
		{name: "classified transient", err: fmt.Errorf("wrapped: %w", &classified{transient: true}), expected: true},
		{name: "classified permanent", err: &classified{}, expected: false},
		{name: "plain", err: errors.New("boom"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			g.Expect(IsTransient(tt.err)).To(Equal(tt.expected))
		})
	}
}
