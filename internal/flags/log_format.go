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

	"github.com/evrone/kcl-controller/internal/logger"
)

type LogFormat string

func (f *LogFormat) String() string {
	return string(*f)
}

func (f *LogFormat) Set(str string) error {
	switch str {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("log format must be '%s' or '%s'", logger.FormatConsole, logger.FormatJSON)
	}
	*f = LogFormat(str)
	return nil
}

func (f *LogFormat) Type() string {
	return "format"
}

func (f *LogFormat) Default() string {
	return logger.FormatConsole
}

func (f *LogFormat) Description() string {
	return fmt.Sprintf("The log encoding, can be '%s' or '%s'.", logger.FormatConsole, logger.FormatJSON)
}
