/*
 * This file is part of Sonance (https://github.com/hamitzor/sonance).
 * Copyright (C) 2026 Hamit Zor
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package engine defines the contract between the stream adapters and the
// native audio driver layer. An [Engine] owns exactly one device stream:
// it is opened with fixed parameters, started and stopped from the consumer
// context, and it invokes a fixed-size frame callback on a realtime thread
// at a cadence determined by the frame size and sample rate.
//
// Two implementations are provided: [PortAudioEngine], a thin adapter over
// the PortAudio library, and [MockEngine], a deterministic in-memory engine
// for hardware-independent testing.
package engine

import (
	"fmt"
	"time"
)

// Format identifies the PCM sample format of a stream.
type Format int

const (
	// FormatInt16 is signed 16-bit integer PCM (little-endian). It is the
	// zero value, making it the default format of a stream.
	FormatInt16 Format = iota
	// FormatInt8 is signed 8-bit integer PCM.
	FormatInt8
	// FormatInt32 is signed 32-bit integer PCM (little-endian).
	FormatInt32
	// FormatFloat32 is 32-bit IEEE float PCM (little-endian).
	FormatFloat32
	// FormatFloat64 is 64-bit IEEE float PCM (little-endian).
	FormatFloat64
)

// BytesPerSample returns the width of a single sample in bytes.
func (f Format) BytesPerSample() int {
	switch f {
	case FormatInt8:
		return 1
	case FormatInt16:
		return 2
	case FormatInt32:
		return 4
	case FormatFloat32:
		return 4
	case FormatFloat64:
		return 8
	}
	return 0
}

// String returns the human-readable name of the format.
func (f Format) String() string {
	switch f {
	case FormatInt8:
		return "s8"
	case FormatInt16:
		return "s16le"
	case FormatInt32:
		return "s32le"
	case FormatFloat32:
		return "f32le"
	case FormatFloat64:
		return "f64le"
	}
	return "unknown"
}

// Status carries per-invocation driver flags passed to the frame callback.
type Status int

const (
	// StatusInputOverflow indicates input data was discarded by the driver
	// because the callback did not keep up.
	StatusInputOverflow Status = 1 << iota
	// StatusOutputUnderflow indicates the driver's output buffer ran low,
	// likely producing an audible gap.
	StatusOutputUnderflow
)

// StreamFlags are driver hints passed at open time.
type StreamFlags int

const (
	// FlagNoninterleaved requests channel-grouped rather than interleaved buffers.
	FlagNoninterleaved StreamFlags = 1 << iota
	// FlagMinimizeLatency asks the driver to configure for lowest possible latency.
	FlagMinimizeLatency
	// FlagHogDevice attempts to grab the device for exclusive use.
	FlagHogDevice
	// FlagScheduleRealtime requests realtime scheduling for the callback thread.
	FlagScheduleRealtime
)

// StreamConfig describes one direction (input or output) of a device stream.
type StreamConfig struct {
	// DeviceID selects the device, as reported by a [Probe].
	DeviceID int

	// Channels is the number of channels to open on the device.
	Channels int

	// FirstChannel is the offset of the first channel to use (default 0).
	FirstChannel int
}

// StreamOptions carries optional driver-specific tuning for Open.
type StreamOptions struct {
	Flags      StreamFlags
	NumBuffers int
	Name       string
}

// Callback is invoked by the engine once per frame period on the realtime
// thread. For input streams in holds exactly frameCount x channels samples
// of encoded PCM; for output streams the callback must fill out the same
// way. elapsed is the stream time of the invocation. The callback must not
// block and must return promptly.
type Callback func(out, in []byte, frameCount int, elapsed time.Duration, status Status)

// ErrorCallback receives asynchronous driver errors with their severity
// carried in the error code. See [Code] for the severity ordering.
type ErrorCallback func(code Code, message string)

// Engine is the native audio driver collaborator. An Engine instance owns a
// single device stream; reopening after Close requires the same instance to
// be reconfigured via Open. Lifecycle methods (Open, Start, Abort, Close)
// must only be called from the consumer context, never from the callback.
type Engine interface {
	// Open configures the stream. At least one of out and in must be non-nil;
	// both non-nil opens a duplex stream. frameSize is the fixed frame count
	// per callback invocation. Fails with an [*Error] if the device or
	// parameter combination is unsupported.
	Open(out, in *StreamConfig, format Format, sampleRate int, frameSize int, opts *StreamOptions, cb Callback) error

	// Start begins callback invocations.
	Start() error

	// Abort stops the stream immediately, discarding any driver-buffered audio.
	Abort() error

	// Close releases the stream. Closing an unopened engine is a no-op.
	Close() error

	IsOpen() bool
	IsRunning() bool

	// Latency reports the driver-side stream latency.
	Latency() (time.Duration, error)

	// SampleRate reports the actual stream sample rate, which may differ
	// from the requested one on some drivers.
	SampleRate() (int, error)

	// Time reports the stream clock.
	Time() (time.Duration, error)

	// SetErrorCallback registers fn to receive asynchronous driver errors.
	// Only one callback may be registered; subsequent calls replace it.
	SetErrorCallback(fn ErrorCallback)
}

// Code classifies engine errors. The numeric order doubles as the severity
// order: [CodeDebugWarning] is the lowest (suppressible) level, everything
// above it is surfaced to stream consumers.
type Code int

const (
	CodeDebugWarning Code = iota
	CodeWarning
	CodeUnspecified
	CodeNoDevicesFound
	CodeInvalidDevice
	CodeInvalidParameter
	CodeInvalidUse
	CodeMemoryError
	CodeDriverError
	CodeSystemError
	CodeThreadError
)

// String returns the canonical name of the error code.
func (c Code) String() string {
	switch c {
	case CodeDebugWarning:
		return "debug_warning"
	case CodeWarning:
		return "warning"
	case CodeUnspecified:
		return "unspecified"
	case CodeNoDevicesFound:
		return "no_devices_found"
	case CodeInvalidDevice:
		return "invalid_device"
	case CodeInvalidParameter:
		return "invalid_parameter"
	case CodeInvalidUse:
		return "invalid_use"
	case CodeMemoryError:
		return "memory_error"
	case CodeDriverError:
		return "driver_error"
	case CodeSystemError:
		return "system_error"
	case CodeThreadError:
		return "thread_error"
	}
	return "unknown"
}

// Suppressible reports whether the code sits at or below the debug-warning
// severity threshold and may be withheld from consumers by default.
func (c Code) Suppressible() bool {
	return c <= CodeDebugWarning
}

// Error is the typed error returned by engine operations and delivered to
// error callbacks.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Errorf builds an [*Error] with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an [*Error] around an underlying driver error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
