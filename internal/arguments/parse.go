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
	"bytes"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

// ParseMapping decodes a YAML document that must hold a mapping
// and returns its top-level keys with the values rendered as text.
func ParseMapping(filename string, src []byte) (map[string]string, error) {
	v, err := decode(filename, src)
	if err != nil {
		return nil, err
	}

	switch v.IncompleteKind() {
	case cue.NullKind:
		return map[string]string{}, nil
	case cue.StructKind:
	default:
		return nil, fmt.Errorf("expected a mapping, got %s", v.IncompleteKind())
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterating fields failed: %w", err)
	}

	result := make(map[string]string)
	for iter.Next() {
		s, err := toString(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", iter.Selector().String(), err)
		}
		result[iter.Selector().Unquoted()] = s
	}

	return result, nil
}

// ParseScalar decodes a YAML document that must hold a single scalar value.
func ParseScalar(filename string, src []byte) (string, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return "", nil
	}

	v, err := decode(filename, src)
	if err != nil {
		return "", err
	}

	switch v.IncompleteKind() {
	case cue.StructKind, cue.ListKind:
		return "", fmt.Errorf("expected a scalar value, got %s", v.IncompleteKind())
	}

	return toString(v)
}

func decode(filename string, src []byte) (cue.Value, error) {
	f, err := yaml.Extract(filename, src)
	if err != nil {
		return cue.Value{}, fmt.Errorf("invalid yaml: %w", err)
	}

	v := cuecontext.New().BuildFile(f)
	if v.Err() != nil {
		return cue.Value{}, fmt.Errorf("decoding error: %w", v.Err())
	}

	return v, nil
}

// toString renders strings verbatim and every other value as JSON,
// which KCL accepts as a typed literal in '-D key=value'.
func toString(v cue.Value) (string, error) {
	if v.IncompleteKind() == cue.StringKind {
		return v.String()
	}

	b, err := v.MarshalJSON()
	if err != nil {
		return "", err
	}

	return string(b), nil
}
