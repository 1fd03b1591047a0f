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
	"testing"

	. "github.com/onsi/gomega"
)

func TestParseMapping(t *testing.T) {
	g := NewWithT(t)

	values, err := ParseMapping("values.yaml", []byte(`
name: podinfo
port: 9898
ratio: 0.5
debug: false
tags: [a, b]
`))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(values).To(Equal(map[string]string{
		"name":  "podinfo",
		"port":  "9898",
		"ratio": "0.5",
		"debug": "false",
		"tags":  `["a","b"]`,
	}))

	values, err = ParseMapping("values.yaml", []byte("# nothing here\n"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(values).To(BeEmpty())

	_, err = ParseMapping("values.yaml", []byte("just a string"))
	g.Expect(err).To(HaveOccurred())
}

func TestParseScalar(t *testing.T) {
	g := NewWithT(t)

	v, err := ParseScalar("tag", []byte("v1.2.3"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(v).To(Equal("v1.2.3"))

	v, err = ParseScalar("replicas", []byte("3\n"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(v).To(Equal("3"))

	v, err = ParseScalar("empty", []byte(""))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(v).To(BeEmpty())

	_, err = ParseScalar("list", []byte("- a\n"))
	g.Expect(err).To(HaveOccurred())
}
