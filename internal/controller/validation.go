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
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInstance checks the constraints the API server can't enforce
// when the CRD schema is outdated.
func validateInstance(obj *apiv1.KclInstance) error {
	err := validate.Struct(obj.Spec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &reasonError{reason: apiv1.ValidationFailedReason, err: err}
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := "spec" + strings.TrimPrefix(fe.Namespace(), "KclInstanceSpec")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s=%s' validation", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed '%s' validation", field, fe.Tag()))
	}

	return &reasonError{
		reason: apiv1.ValidationFailedReason,
		err:    fmt.Errorf("invalid spec: %s", strings.Join(msgs, "; ")),
	}
}
