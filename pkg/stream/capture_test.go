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

package stream

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamitzor/sonance/pkg/engine"
)

// testParams yields an 8-byte chunk: 4 frames x 1 channel x 2 bytes.
func testParams() Params {
	return Params{
		Channels:   1,
		Format:     engine.FormatInt16,
		SampleRate: 16000,
		FrameSize:  4,
	}
}

// frame builds one chunk worth of input filled with b, so chunks are easy
// to tell apart in assertions.
func frame(b byte) []byte {
	return bytes.Repeat([]byte{b}, 8)
}

func newCaptureTest(t *testing.T, params Params) (*engine.MockEngine, *CaptureStream) {
	t.Helper()
	eng := engine.NewMockEngine()
	s, err := NewCapture(eng, params)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return eng, s
}

func TestNewCaptureValidatesParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero channels", func(p *Params) { p.Channels = 0 }},
		{"negative first channel", func(p *Params) { p.FirstChannel = -1 }},
		{"zero sample rate", func(p *Params) { p.SampleRate = 0 }},
		{"zero frame size", func(p *Params) { p.FrameSize = 0 }},
		{"negative high-water mark", func(p *Params) { p.HighWaterMark = -1 }},
		{"unknown format", func(p *Params) { p.Format = engine.Format(99) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			tt.mutate(&params)
			_, err := NewCapture(engine.NewMockEngine(), params)
			require.Error(t, err)
			var engErr *engine.Error
			require.ErrorAs(t, err, &engErr)
			assert.Equal(t, engine.CodeInvalidParameter, engErr.Code)
		})
	}
}

func TestNewCaptureStartsEngine(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())
	assert.True(t, eng.IsOpen())
	assert.True(t, eng.IsRunning())
	assert.Equal(t, 8, s.ChunkBytes())
}

func TestCaptureDeliversFramesInOrder(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	var got [][]byte
	s.OnData(func(chunk []byte) bool {
		got = append(got, chunk)
		return true
	})
	s.Resume()

	for _, b := range []byte{1, 2, 3} {
		_, err := eng.Tick(frame(b), 0)
		require.NoError(t, err)
	}

	require.Len(t, got, 3)
	assert.Equal(t, [][]byte{frame(1), frame(2), frame(3)}, got)
}

func TestCaptureQueuesWhileSaturated(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	var got [][]byte
	ready := false
	s.OnData(func(chunk []byte) bool {
		got = append(got, chunk)
		return ready
	})
	s.Resume()

	// First chunk is delivered but the handler reports saturation, so the
	// next two queue up in arrival order.
	_, err := eng.Tick(frame(1), 0)
	require.NoError(t, err)
	_, err = eng.Tick(frame(2), 0)
	require.NoError(t, err)
	_, err = eng.Tick(frame(3), 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{frame(1)}, got)

	ready = true
	s.Resume()
	require.Equal(t, [][]byte{frame(1), frame(2), frame(3)}, got)

	// Direct delivery again now that the queue is empty.
	_, err = eng.Tick(frame(4), 0)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{frame(1), frame(2), frame(3), frame(4)}, got)
}

func TestCapturePauseAndResume(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	var got [][]byte
	s.OnData(func(chunk []byte) bool {
		got = append(got, chunk)
		return true
	})
	s.Resume()

	_, err := eng.Tick(frame(1), 0)
	require.NoError(t, err)

	s.Pause()
	_, err = eng.Tick(frame(2), 0)
	require.NoError(t, err)
	_, err = eng.Tick(frame(3), 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{frame(1)}, got)

	s.Resume()
	assert.Equal(t, [][]byte{frame(1), frame(2), frame(3)}, got)
}

func TestCaptureStopDrainsQueueThenEnds(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	var got [][]byte
	ends := 0
	s.OnData(func(chunk []byte) bool {
		got = append(got, chunk)
		return true
	})
	s.OnEnd(func() { ends++ })

	// Saturated from construction: everything queues.
	_, err := eng.Tick(frame(1), 0)
	require.NoError(t, err)
	_, err = eng.Tick(frame(2), 0)
	require.NoError(t, err)

	s.Stop()

	// Frames captured after the stop request are dropped; the end sentinel
	// is queued behind the buffered frames exactly once.
	_, err = eng.Tick(frame(3), 0)
	require.NoError(t, err)
	_, err = eng.Tick(frame(4), 0)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Zero(t, ends)

	s.Resume()
	assert.Equal(t, [][]byte{frame(1), frame(2)}, got)
	assert.Equal(t, 1, ends)

	assert.Eventually(t, func() bool { return !eng.IsOpen() },
		time.Second, time.Millisecond)
}

func TestCaptureStopWithReadyConsumerEndsOnNextFrame(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	var got [][]byte
	ends := 0
	s.OnData(func(chunk []byte) bool {
		got = append(got, chunk)
		return true
	})
	s.OnEnd(func() { ends++ })
	s.Resume()

	_, err := eng.Tick(frame(1), 0)
	require.NoError(t, err)

	s.Stop()
	_, err = eng.Tick(frame(2), 0)
	require.NoError(t, err)

	assert.Equal(t, [][]byte{frame(1)}, got)
	assert.Equal(t, 1, ends)
	assert.Eventually(t, func() bool { return !eng.IsOpen() },
		time.Second, time.Millisecond)
}

func TestCaptureHardwareResumeDropsStaleFrames(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	var got [][]byte
	s.OnData(func(chunk []byte) bool {
		got = append(got, chunk)
		return true
	})

	// Saturated: the pre-pause frame sits in the queue.
	_, err := eng.Tick(frame(1), 0)
	require.NoError(t, err)

	require.NoError(t, s.PauseHardware())
	assert.False(t, eng.IsRunning())
	require.NoError(t, s.ResumeHardware())

	// The first frame of the new session may still carry stale audio and is
	// discarded along with the queue.
	_, err = eng.Tick(frame(2), 0)
	require.NoError(t, err)

	s.Resume()
	require.Empty(t, got)

	_, err = eng.Tick(frame(3), 0)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{frame(3)}, got)
}

func TestCaptureOverflowIsAdvisory(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	var got [][]byte
	overflows := 0
	s.OnData(func(chunk []byte) bool {
		got = append(got, chunk)
		return true
	})
	s.OnOverflow(func() { overflows++ })
	s.Resume()

	_, err := eng.Tick(frame(1), engine.StatusInputOverflow)
	require.NoError(t, err)
	_, err = eng.Tick(frame(2), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, overflows)
	assert.Equal(t, [][]byte{frame(1), frame(2)}, got)
}

func TestCaptureErrorSeverity(t *testing.T) {
	tests := []struct {
		name         string
		showWarnings bool
		code         engine.Code
		wantError    bool
	}{
		{"debug warning suppressed", false, engine.CodeDebugWarning, false},
		{"debug warning surfaced", true, engine.CodeDebugWarning, true},
		{"warning always fatal", false, engine.CodeWarning, true},
		{"driver error always fatal", false, engine.CodeDriverError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			params.ShowWarnings = tt.showWarnings
			eng, s := newCaptureTest(t, params)

			var got error
			s.OnError(func(err error) { got = err })

			eng.EmitError(tt.code, "boom")
			if !tt.wantError {
				assert.NoError(t, got)
				return
			}
			require.Error(t, got)
			var engErr *engine.Error
			require.ErrorAs(t, got, &engErr)
			assert.Equal(t, tt.code, engErr.Code)
		})
	}
}

func TestCaptureCloseIsIdempotent(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	ends := 0
	s.OnEnd(func() { ends++ })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, ends)
	assert.False(t, eng.IsOpen())

	// Callbacks after close are ignored.
	_, err := eng.Tick(frame(1), 0)
	assert.Error(t, err)
}

func TestCaptureReader(t *testing.T) {
	params := testParams()
	params.HighWaterMark = 64
	eng, s := newCaptureTest(t, params)

	r := s.Reader()
	defer r.Close()

	_, err := eng.Tick(frame(1), 0)
	require.NoError(t, err)
	_, err = eng.Tick(frame(2), 0)
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, append(frame(1), frame(2)...), buf)

	s.Stop()
	_, err = eng.Tick(frame(3), 0)
	require.NoError(t, err)

	n, err := r.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
}

func TestCaptureReaderSurfacesErrors(t *testing.T) {
	eng, s := newCaptureTest(t, testParams())

	r := s.Reader()
	defer r.Close()

	eng.EmitError(engine.CodeDriverError, "device lost")

	_, err := r.Read(make([]byte, 8))
	require.Error(t, err)
	var engErr *engine.Error
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, engine.CodeDriverError, engErr.Code)
}
