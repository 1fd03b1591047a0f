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
	"testing"

	"github.com/fluxcd/pkg/ssa"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestImplements(t *testing.T) {
	g := NewWithT(t)

	type writer interface {
		Get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
		Apply(ctx context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error)
		Delete(ctx context.Context, obj *unstructured.Unstructured) (*ssa.ChangeSetEntry, error)
		IsNamespaced(obj *unstructured.Unstructured) (bool, error)
	}

	type liar interface {
		NotTestMethod()
	}

	w := NewFakeWriter()

	g.Expect(w).To(Implement((*writer)(nil)))
	g.Expect(w).ToNot(Implement((*liar)(nil)))
}

func TestHaveCondition(t *testing.T) {
	g := NewWithT(t)

	conditions := []metav1.Condition{
		{Type: "Ready", Status: metav1.ConditionFalse, Reason: "RenderError"},
	}

	g.Expect(conditions).To(HaveCondition("Ready", metav1.ConditionFalse, "RenderError"))
	g.Expect(conditions).ToNot(HaveCondition("Ready", metav1.ConditionTrue, "RenderError"))
	g.Expect(conditions).ToNot(HaveCondition("Reconciling", metav1.ConditionTrue, "Progressing"))

	_, err := HaveCondition("Ready", metav1.ConditionTrue, "").Match("not a list")
	g.Expect(err).To(HaveOccurred())
}
