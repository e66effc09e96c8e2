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

package engine

import (
	"sync"
	"time"
)

// MockEngine implements [Engine] for testing without hardware dependencies.
// Instead of a realtime thread, the test drives the frame callback manually
// with [MockEngine.Tick], which makes callback interleavings fully
// deterministic. Output slices handed to the callback are recorded and can
// be inspected with [MockEngine.Played].
type MockEngine struct {
	mu sync.Mutex

	open    bool
	running bool

	cb    Callback
	errCb ErrorCallback

	format     Format
	sampleRate int
	frameSize  int
	inChans    int
	outChans   int

	clock  time.Duration
	played [][]byte

	openErr  error
	startErr error
	abortErr error
	closeErr error
}

// NewMockEngine creates a new mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// SetOpenError configures the engine to fail the next Open call.
func (m *MockEngine) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetStartError configures the engine to fail the next Start call.
func (m *MockEngine) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetAbortError configures the engine to fail the next Abort call.
func (m *MockEngine) SetAbortError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortErr = err
}

// SetCloseError configures the engine to fail the next Close call.
func (m *MockEngine) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// Open configures the mock stream.
func (m *MockEngine) Open(out, in *StreamConfig, format Format, sampleRate, frameSize int, opts *StreamOptions, cb Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return m.openErr
	}
	if m.open {
		return Errorf(CodeInvalidUse, "stream already open")
	}
	if out == nil && in == nil {
		return Errorf(CodeInvalidParameter, "neither input nor output parameters given")
	}
	if format.BytesPerSample() == 0 {
		return Errorf(CodeInvalidParameter, "unknown sample format")
	}

	m.open = true
	m.cb = cb
	m.format = format
	m.sampleRate = sampleRate
	m.frameSize = frameSize
	m.inChans = 0
	m.outChans = 0
	if in != nil {
		m.inChans = in.Channels
	}
	if out != nil {
		m.outChans = out.Channels
	}
	m.clock = 0
	m.played = nil
	return nil
}

// Start marks the mock stream running.
func (m *MockEngine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	if !m.open {
		return Errorf(CodeInvalidUse, "stream is not open")
	}
	m.running = true
	return nil
}

// Abort marks the mock stream stopped.
func (m *MockEngine) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.abortErr != nil {
		return m.abortErr
	}
	m.running = false
	return nil
}

// Close releases the mock stream. Closing an unopened engine is a no-op.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeErr != nil {
		return m.closeErr
	}
	m.open = false
	m.running = false
	m.cb = nil
	return nil
}

func (m *MockEngine) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *MockEngine) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Latency reports a fixed nominal latency of one frame period.
func (m *MockEngine) Latency() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, Errorf(CodeInvalidUse, "stream is not open")
	}
	return m.framePeriod(), nil
}

// SampleRate reports the configured sample rate.
func (m *MockEngine) SampleRate() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, Errorf(CodeInvalidUse, "stream is not open")
	}
	return m.sampleRate, nil
}

// Time reports the simulated stream clock, advanced by one frame period per
// Tick.
func (m *MockEngine) Time() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, Errorf(CodeInvalidUse, "stream is not open")
	}
	return m.clock, nil
}

// SetErrorCallback registers fn to receive errors injected via EmitError.
func (m *MockEngine) SetErrorCallback(fn ErrorCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errCb = fn
}

// EmitError delivers an asynchronous driver error to the registered error
// callback, simulating the driver's error path.
func (m *MockEngine) EmitError(code Code, message string) {
	m.mu.Lock()
	fn := m.errCb
	m.mu.Unlock()
	if fn != nil {
		fn(code, message)
	}
}

// Tick drives exactly one frame callback invocation, standing in for one
// period of the realtime thread. For input streams in must hold one chunk of
// encoded PCM; for output streams pass nil. The bytes the callback leaves in
// the output buffer are recorded and returned.
//
// The engine lock is not held across the callback so the callback (or the
// consumer code it triggers) may call back into the engine.
func (m *MockEngine) Tick(in []byte, status Status) ([]byte, error) {
	m.mu.Lock()
	if !m.open || !m.running {
		m.mu.Unlock()
		return nil, Errorf(CodeInvalidUse, "tick on a stream that is not running")
	}
	cb := m.cb
	frameSize := m.frameSize
	elapsed := m.clock
	m.clock += m.framePeriod()
	var out []byte
	if m.outChans > 0 {
		out = make([]byte, frameSize*m.outChans*m.format.BytesPerSample())
	}
	m.mu.Unlock()

	cb(out, in, frameSize, elapsed, status)

	if out != nil {
		m.mu.Lock()
		m.played = append(m.played, out)
		m.mu.Unlock()
	}
	return out, nil
}

// Played returns all output slices produced by callbacks so far.
func (m *MockEngine) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.played))
	copy(out, m.played)
	return out
}

func (m *MockEngine) framePeriod() time.Duration {
	if m.sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(m.frameSize) / float64(m.sampleRate) * float64(time.Second))
}
