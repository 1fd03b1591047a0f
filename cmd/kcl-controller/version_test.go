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

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	. "github.com/onsi/gomega"
	"sigs.k8s.io/yaml"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

func TestVersion(t *testing.T) {
	g := NewWithT(t)
	output, err := executeCommand("version -o yaml")
	g.Expect(err).ToNot(HaveOccurred())

	var data map[string]interface{}
	err = yaml.Unmarshal([]byte(output), &data)
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(data).To(HaveKeyWithValue("api", apiv1.GroupVersion.String()))
	g.Expect(data).To(HaveKeyWithValue("controller", VERSION))
}

func TestVersion_JSON(t *testing.T) {
	g := NewWithT(t)
	output, err := executeCommand("version -o json")
	g.Expect(err).ToNot(HaveOccurred())

	var data map[string]string
	g.Expect(json.Unmarshal([]byte(output), &data)).To(Succeed())
	g.Expect(data).To(HaveKeyWithValue("manager", apiv1.FieldManager))
}

var multiline = cmpopts.AcyclicTransformer("multiline", func(s string) []string {
	return strings.Split(s, "\n")
})

func TestVersion_Golden(t *testing.T) {
	output, err := executeCommand("version --output yaml")
	if err != nil {
		t.Fatal(err)
	}

	expect := fmt.Sprintf(`api: kcl.evrone.com/v1alpha1
controller: %s
manager: kcl-instance-controller
`, VERSION)

	if diff := cmp.Diff(expect, output, multiline); diff != "" {
		t.Errorf("version output mismatch (-want +got):\n%s", diff)
	}
}
