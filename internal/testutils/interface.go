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
	"fmt"
	"reflect"

	"github.com/onsi/gomega/format"
	"github.com/onsi/gomega/types"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Implement checks if the object implements the interface.
func Implement(expected interface{}) types.GomegaMatcher {
	return &implementsMatcher{
		expected: expected,
	}
}

type implementsMatcher struct {
	expected interface{}
}

func (m *implementsMatcher) Match(actual interface{}) (success bool, err error) {
	iface := reflect.TypeOf(m.expected).Elem()
	return reflect.TypeOf(actual).Implements(iface), nil
}

func (m *implementsMatcher) FailureMessage(actual interface{}) (message string) {
	return format.Message(actual, fmt.Sprintf("to implement %T", m.expected))
}

func (m *implementsMatcher) NegatedFailureMessage(actual interface{}) (message string) {
	return format.Message(actual, fmt.Sprintf("not to implement %T", m.expected))
}

// HaveCondition matches a list of conditions containing one of the
// given type with the expected status and reason.
func HaveCondition(conditionType string, status metav1.ConditionStatus, reason string) types.GomegaMatcher {
	return &conditionMatcher{
		conditionType: conditionType,
		status:        status,
		reason:        reason,
	}
}

type conditionMatcher struct {
	conditionType string
	status        metav1.ConditionStatus
	reason        string
}

func (m *conditionMatcher) Match(actual interface{}) (success bool, err error) {
	conditions, ok := actual.([]metav1.Condition)
	if !ok {
		return false, fmt.Errorf("HaveCondition expects []metav1.Condition, got %T", actual)
	}
	c := apimeta.FindStatusCondition(conditions, m.conditionType)
	if c == nil {
		return false, nil
	}
	return c.Status == m.status && c.Reason == m.reason, nil
}

func (m *conditionMatcher) FailureMessage(actual interface{}) (message string) {
	return format.Message(actual, fmt.Sprintf("to have condition %s=%s with reason %s", m.conditionType, m.status, m.reason))
}

func (m *conditionMatcher) NegatedFailureMessage(actual interface{}) (message string) {
	return format.Message(actual, fmt.Sprintf("not to have condition %s=%s with reason %s", m.conditionType, m.status, m.reason))
}
