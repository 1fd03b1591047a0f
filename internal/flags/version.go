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

package flags

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// KubeVersion is a semver constraint the Kubernetes server version must satisfy.
type KubeVersion string

func (f *KubeVersion) String() string {
	return string(*f)
}

func (f *KubeVersion) Set(str string) error {
	if str != "" {
		if _, err := semver.NewConstraint(str); err != nil {
			return fmt.Errorf("invalid version constraint: %w", err)
		}
	}
	*f = KubeVersion(str)
	return nil
}

func (f *KubeVersion) Type() string {
	return "constraint"
}

func (f *KubeVersion) Default() string {
	return ">= 1.28.0-0"
}

func (f *KubeVersion) Description() string {
	return "The semver constraint the Kubernetes server version must satisfy e.g. '>= 1.28.0-0'."
}

// Check returns an error if the given version doesn't satisfy the constraint.
func (f *KubeVersion) Check(version string) error {
	if f.String() == "" {
		return nil
	}
	c, err := semver.NewConstraint(f.String())
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid server version '%s': %w", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("Kubernetes version %s does not match %s", version, f.String())
	}
	return nil
}
