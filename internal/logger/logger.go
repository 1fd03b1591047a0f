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

package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/fluxcd/pkg/ssa"
	ssautil "github.com/fluxcd/pkg/ssa/utils"
	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	runtimeLog "sigs.k8s.io/controller-runtime/pkg/log"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options holds the logger settings.
type Options struct {
	// Format is either console or json.
	Format string

	// Level is a zerolog level name e.g. info, debug, trace.
	Level string

	// Colorize enables colors for the console format.
	Colorize bool

	// Output defaults to stderr.
	Output io.Writer
}

// NewLogger returns a logr.Logger backed by zerolog and installs it
// as the controller-runtime logger.
func NewLogger(opts Options) (logr.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return logr.Discard(), fmt.Errorf("invalid log level '%s': %w", opts.Level, err)
		}
		level = l
	}

	out := opts.Output
	var zlog zerolog.Logger
	switch opts.Format {
	case FormatJSON:
		if out == nil {
			out = color.Error
		}
		zlog = zerolog.New(out)
	case FormatConsole, "":
		color.NoColor = !opts.Colorize
		if out == nil {
			out = color.Error
		}
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: !opts.Colorize})
	default:
		return logr.Discard(), fmt.Errorf("invalid log format '%s', must be %s or %s", opts.Format, FormatConsole, FormatJSON)
	}
	zlog = zlog.Level(level).With().Timestamp().Logger()

	// V(1) maps to debug and V(2) to trace.
	zerologr.VerbosityFieldName = ""
	if v := int(zerolog.InfoLevel - level); v > 0 {
		zerologr.SetMaxV(v)
	}
	log := zerologr.New(&zlog)

	runtimeLog.SetLogger(log)

	return log, nil
}

// NewConsoleLogger returns a human-friendly Logger at info level.
func NewConsoleLogger(colorize bool) logr.Logger {
	log, _ := NewLogger(Options{Format: FormatConsole, Colorize: colorize})
	return log
}

var (
	colorError        = color.New(color.FgHiRed)
	colorReady        = color.New(color.FgHiGreen)
	colorCallerPrefix = color.New(color.FgHiBlack)
	colorInstance     = color.New(color.FgHiMagenta)
	colorRevision     = color.New(color.FgHiBlue)
	colorPerAction    = map[ssa.Action]*color.Color{
		ssa.CreatedAction:    color.New(color.FgHiGreen),
		ssa.ConfiguredAction: color.New(color.FgHiCyan),
		ssa.UnchangedAction:  color.New(color.FgHiBlack),
		ssa.DeletedAction:    color.New(color.FgRed),
		ssa.SkippedAction:    color.New(color.FgHiBlack),
		ssa.UnknownAction:    color.New(color.FgYellow, color.Italic),
	}
	colorPerPhase = map[apiv1.Phase]*color.Color{
		apiv1.PendingPhase:     color.New(color.FgYellow, color.Italic),
		apiv1.ReconcilingPhase: color.New(color.FgHiCyan, color.Italic),
		apiv1.ReadyPhase:       color.New(color.FgHiGreen),
		apiv1.FailedPhase:      color.New(color.FgHiRed),
		apiv1.SuspendedPhase:   color.New(color.FgHiBlack),
		apiv1.FinalizingPhase:  color.New(color.FgRed),
	}
)

func ColorizeJoin(values ...any) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(ColorizeAny(v))
	}
	return sb.String()
}

func ColorizeAny(v any) string {
	switch v := v.(type) {
	case *unstructured.Unstructured:
		return ColorizeUnstructured(v)
	case ssa.Action:
		return ColorizeAction(v)
	case ssa.ChangeSetEntry:
		return ColorizeChangeSetEntry(v)
	case *ssa.ChangeSetEntry:
		return ColorizeChangeSetEntry(*v)
	case apiv1.Phase:
		return ColorizePhase(v)
	case error:
		return ColorizeError(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func ColorizeSubject(subject string) string {
	return color.CyanString(subject)
}

func ColorizeReady(subject string) string {
	return colorReady.Sprint(subject)
}

func ColorizeInfo(subject string) string {
	return color.GreenString(subject)
}

func ColorizeWarning(subject string) string {
	return color.YellowString(subject)
}

func ColorizeUnstructured(object *unstructured.Unstructured) string {
	return ColorizeSubject(ssautil.FmtUnstructured(object))
}

func ColorizeAction(action ssa.Action) string {
	if c, ok := colorPerAction[action]; ok {
		return c.Sprint(action)
	}
	return action.String()
}

func ColorizeChange(subject string, action ssa.Action) string {
	return fmt.Sprintf("%s %s", ColorizeSubject(subject), ColorizeAction(action))
}

func ColorizeChangeSetEntry(change ssa.ChangeSetEntry) string {
	return ColorizeChange(change.Subject, change.Action)
}

func ColorizeError(err error) string {
	return colorError.Sprint(err.Error())
}

func ColorizePhase(phase apiv1.Phase) string {
	if c, ok := colorPerPhase[phase]; ok {
		return c.Sprint(string(phase))
	}
	return string(phase)
}

func ColorizeRevision(revision string) string {
	return colorRevision.Sprint(revision)
}

// ColorizeInstance formats the instance reference as a log caller.
func ColorizeInstance(namespace, name string) string {
	return colorCallerPrefix.Sprint("i:") + colorInstance.Sprint(namespace+"/"+name)
}
