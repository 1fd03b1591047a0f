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
	"context"
	"errors"
	"testing"

	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

const testNamespace = "apps"

func newConfigMap(name string, data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace},
		Data:       data,
	}
}

func newResolver(objs ...client.Object) *Resolver {
	return NewResolver(fake.NewClientBuilder().WithObjects(objs...).Build())
}

func reasonOf(err error) string {
	var refErr *ReferenceError
	if errors.As(err, &refErr) {
		return refErr.Reason()
	}
	return ""
}

func TestResolve_MergePrecedence(t *testing.T) {
	g := NewWithT(t)

	r := newResolver(
		newConfigMap("first", map[string]string{
			"arguments.yaml": "replicas: 2\nimage: nginx\nresources:\n  cpu: 100m\n",
		}),
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "second", Namespace: testNamespace},
			Data: map[string][]byte{
				"values": []byte("replicas: 3\nenabled: true\n"),
			},
		},
	)

	cfg := apiv1.KclInstanceConfig{
		Arguments: map[string]string{
			"replicas": "1",
			"env":      "prod",
		},
		ArgumentsFrom: []apiv1.ArgumentsReference{
			{Kind: apiv1.ConfigMapKind, Name: "first"},
			{Kind: apiv1.SecretKind, Name: "second", ArgumentsKey: "values"},
		},
	}

	args, err := r.Resolve(context.Background(), testNamespace, cfg)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(args).To(Equal(map[string]string{
		"replicas":  "3",
		"env":       "prod",
		"image":     "nginx",
		"resources": `{"cpu":"100m"}`,
		"enabled":   "true",
	}))
}

func TestResolve_TargetPath(t *testing.T) {
	g := NewWithT(t)

	r := newResolver(newConfigMap("image", map[string]string{
		"tag": "1.25.3",
	}))

	cfg := apiv1.KclInstanceConfig{
		Arguments: map[string]string{"image.tag": "latest"},
		ArgumentsFrom: []apiv1.ArgumentsReference{
			{Kind: apiv1.ConfigMapKind, Name: "image", ArgumentsKey: "tag", TargetPath: "image.tag"},
		},
	}

	args, err := r.Resolve(context.Background(), testNamespace, cfg)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(args).To(HaveKeyWithValue("image.tag", "1.25.3"))
	g.Expect(args).To(HaveLen(1))
}

func TestResolve_TargetPathRejectsMapping(t *testing.T) {
	g := NewWithT(t)

	r := newResolver(newConfigMap("image", map[string]string{
		"arguments.yaml": "tag: 1.25.3\n",
	}))

	cfg := apiv1.KclInstanceConfig{
		ArgumentsFrom: []apiv1.ArgumentsReference{
			{Kind: apiv1.ConfigMapKind, Name: "image", TargetPath: "image"},
		},
	}

	_, err := r.Resolve(context.Background(), testNamespace, cfg)
	g.Expect(err).To(HaveOccurred())
	g.Expect(reasonOf(err)).To(Equal(apiv1.ReferenceMalformedReason))
}

func TestResolve_OptionalSuppression(t *testing.T) {
	g := NewWithT(t)

	r := newResolver()
	cfg := apiv1.KclInstanceConfig{
		Arguments: map[string]string{"a": "1"},
		ArgumentsFrom: []apiv1.ArgumentsReference{
			{Kind: apiv1.SecretKind, Name: "missing", Optional: true},
		},
	}

	args, err := r.Resolve(context.Background(), testNamespace, cfg)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(args).To(Equal(map[string]string{"a": "1"}))

	cfg.ArgumentsFrom[0].Optional = false
	_, err = r.Resolve(context.Background(), testNamespace, cfg)
	g.Expect(err).To(HaveOccurred())
	g.Expect(reasonOf(err)).To(Equal(apiv1.ReferenceNotFoundReason))
	g.Expect(err.Error()).To(ContainSubstring("Secret/missing"))
}

func TestResolve_OptionalDoesNotSuppressContentErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]string
		ref    apiv1.ArgumentsReference
		reason string
	}{
		{
			name:   "missing key",
			data:   map[string]string{"other.yaml": "a: 1"},
			ref:    apiv1.ArgumentsReference{Kind: apiv1.ConfigMapKind, Name: "cm", Optional: true},
			reason: apiv1.ReferenceKeyMissingReason,
		},
		{
			name:   "unparsable yaml",
			data:   map[string]string{"arguments.yaml": "a: [1, 2\n"},
			ref:    apiv1.ArgumentsReference{Kind: apiv1.ConfigMapKind, Name: "cm", Optional: true},
			reason: apiv1.ReferenceMalformedReason,
		},
		{
			name:   "list instead of mapping",
			data:   map[string]string{"arguments.yaml": "- a\n- b\n"},
			ref:    apiv1.ArgumentsReference{Kind: apiv1.ConfigMapKind, Name: "cm", Optional: true},
			reason: apiv1.ReferenceMalformedReason,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			r := newResolver(newConfigMap("cm", tt.data))
			cfg := apiv1.KclInstanceConfig{
				ArgumentsFrom: []apiv1.ArgumentsReference{tt.ref},
			}

			_, err := r.Resolve(context.Background(), testNamespace, cfg)
			g.Expect(err).To(HaveOccurred())
			g.Expect(reasonOf(err)).To(Equal(tt.reason))
		})
	}
}

func TestResolve_OtherNamespaceIsNotFound(t *testing.T) {
	g := NewWithT(t)

	cm := newConfigMap("cm", map[string]string{"arguments.yaml": "a: 1"})
	cm.Namespace = "other"
	r := newResolver(cm)

	cfg := apiv1.KclInstanceConfig{
		ArgumentsFrom: []apiv1.ArgumentsReference{
			{Kind: apiv1.ConfigMapKind, Name: "cm"},
		},
	}

	_, err := r.Resolve(context.Background(), testNamespace, cfg)
	g.Expect(reasonOf(err)).To(Equal(apiv1.ReferenceNotFoundReason))
}

func TestResolve_SecretStringData(t *testing.T) {
	g := NewWithT(t)

	r := newResolver(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "creds", Namespace: testNamespace},
		StringData: map[string]string{"token": "s3cr3t"},
	})

	cfg := apiv1.KclInstanceConfig{
		ArgumentsFrom: []apiv1.ArgumentsReference{
			{Kind: apiv1.SecretKind, Name: "creds", ArgumentsKey: "token", TargetPath: "auth.token"},
		},
	}

	args, err := r.Resolve(context.Background(), testNamespace, cfg)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(args).To(HaveKeyWithValue("auth.token", "s3cr3t"))
}

func TestResolve_InlineOnly(t *testing.T) {
	g := NewWithT(t)

	inst := &apiv1.KclInstance{}
	args, err := newResolver().Resolve(context.Background(), testNamespace, inst.GetConfig())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(args).To(BeEmpty())
}
