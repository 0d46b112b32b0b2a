// Copyright © 2024 Meroxa, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package failure defines the error taxonomy used across the connector
// runtime. Every error that surfaces to the user as a TRACE message carries
// a failure type that tells whether the problem is caused by the
// configuration, by a transient remote condition or by the system itself.
package failure

import (
	"errors"
	"fmt"
)

// Type classifies an error.
type Type string

const (
	ConfigError    Type = "config_error"
	SystemError    Type = "system_error"
	TransientError Type = "transient_error"
)

// Error is an error annotated with a failure type and optionally with the
// manifest path of the component that caused it.
type Error struct {
	Type Type
	// Message is the user facing message.
	Message string
	// InternalMessage contains details meant for debugging.
	InternalMessage string
	// Path is the manifest path of the component, if known.
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Config returns a config error for the component at path.
func Config(path string, format string, args ...any) *Error {
	return newError(ConfigError, path, format, args...)
}

// Transient returns a transient error.
func Transient(format string, args ...any) *Error {
	return newError(TransientError, "", format, args...)
}

// System returns a system error.
func System(format string, args ...any) *Error {
	return newError(SystemError, "", format, args...)
}

// Wrap annotates err with the failure type. If err is already a failure
// error it is returned unchanged.
func Wrap(t Type, err error, message string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Type: t, Message: message, Err: err}
}

// WithPath attaches the manifest path to a failure error that does not
// have one yet. Other errors are wrapped with the path as prefix.
func WithPath(path string, err error) error {
	if err == nil || path == "" {
		return err
	}
	if fe, ok := err.(*Error); ok { //nolint:errorlint // only the outermost error is annotated
		if fe.Path != "" {
			return err
		}
		cp := *fe
		cp.Path = path
		return &cp
	}
	return fmt.Errorf("%s: %w", path, err)
}

// newError builds the error, unwrapping a trailing %w argument into Err so
// that errors.Is keeps working.
func newError(t Type, path string, format string, args ...any) *Error {
	e := &Error{Type: t, Path: path}
	wrapped := fmt.Errorf(format, args...)
	if inner := errors.Unwrap(wrapped); inner != nil {
		e.Err = inner
		e.Message = trimSuffix(wrapped.Error(), ": "+inner.Error())
	} else {
		e.Message = wrapped.Error()
	}
	return e
}

func trimSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

// TypeOf returns the failure type of err. Errors without an explicit type
// are system errors.
func TypeOf(err error) Type {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Type
	}
	return SystemError
}

// IsConfigError returns true if err is classified as a config error.
func IsConfigError(err error) bool {
	return err != nil && TypeOf(err) == ConfigError
}
