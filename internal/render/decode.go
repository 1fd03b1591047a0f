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

package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
)

// Decode reads a multi-document YAML or JSON stream into objects.
// Empty documents are skipped, List kinds and 'items' wrappers are flattened.
// The identity of the objects is not validated.
func Decode(data []byte) ([]*unstructured.Unstructured, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 2048)
	objects := make([]*unstructured.Unstructured, 0)

	for i := 0; ; i++ {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", i, err)
		}

		if len(raw) == 0 || string(raw) == "null" {
			continue
		}

		var doc interface{}
		if err := utiljson.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}

		flat, err := flatten(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		objects = append(objects, flat...)
	}

	return objects, nil
}

func flatten(doc interface{}) ([]*unstructured.Unstructured, error) {
	switch v := doc.(type) {
	case []interface{}:
		var result []*unstructured.Unstructured
		for _, item := range v {
			objs, err := flatten(item)
			if err != nil {
				return nil, err
			}
			result = append(result, objs...)
		}
		return result, nil
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, nil
		}
		if items, ok := v["items"].([]interface{}); ok && isList(v) {
			return flatten(items)
		}
		return []*unstructured.Unstructured{{Object: v}}, nil
	default:
		return nil, fmt.Errorf("expected an object, got %T", doc)
	}
}

// isList reports whether a document is a Kubernetes List or
// a bare 'items' wrapper emitted by KCL.
func isList(m map[string]interface{}) bool {
	kind, _ := m["kind"].(string)
	if kind == "" {
		_, hasAPIVersion := m["apiVersion"]
		return !hasAPIVersion
	}
	return strings.HasSuffix(kind, "List")
}
