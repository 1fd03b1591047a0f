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

	"github.com/rs/zerolog"
)

type LogLevel string

func (f *LogLevel) String() string {
	return string(*f)
}

func (f *LogLevel) Set(str string) error {
	if str != "" {
		if _, err := zerolog.ParseLevel(str); err != nil {
			return fmt.Errorf("log level must be one of trace, debug, info, warn, error: %w", err)
		}
	}
	*f = LogLevel(str)
	return nil
}

func (f *LogLevel) Type() string {
	return "level"
}

func (f *LogLevel) Default() string {
	return zerolog.InfoLevel.String()
}

func (f *LogLevel) Description() string {
	return "The log verbosity, can be 'trace', 'debug', 'info', 'warn' or 'error'."
}
