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
	"io"
	"sync"
	"time"

	"github.com/hamitzor/sonance/pkg/engine"
)

// PlaybackStream adapts a push-style byte sink into realtime output
// callbacks. Written bytes accumulate in a single growable buffer that the
// callback drains in fixed ChunkBytes-sized slices; when fewer bytes remain,
// the tail of the output buffer is filled with silence (an underflow) unless
// the stream is closing, in which case the short final slice completes the
// close.
type PlaybackStream struct {
	params Params
	chunk  int
	eng    engine.Engine
	ev     *registry

	mu       sync.Mutex
	acc      accumulator
	closing  bool
	closed   bool
	finished bool
	closeErr error

	// teardown is closed once, when the callback has produced the final
	// slice; a goroutine started by End then releases the engine stream
	// from outside the realtime context.
	teardown chan struct{}
	tearOnce sync.Once
}

// NewPlayback opens an output stream on eng with the given parameters,
// registers the adapter as the frame and error callback and starts the
// hardware stream.
func NewPlayback(eng engine.Engine, params Params) (*PlaybackStream, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}

	s := &PlaybackStream{
		params:   params,
		chunk:    params.ChunkBytes(),
		eng:      eng,
		ev:       newRegistry(),
		teardown: make(chan struct{}),
	}

	out := &engine.StreamConfig{
		DeviceID:     params.DeviceID,
		Channels:     params.Channels,
		FirstChannel: params.FirstChannel,
	}
	opts := &engine.StreamOptions{Flags: params.Flags}

	eng.SetErrorCallback(s.onEngineError)
	if err := eng.Open(out, nil, params.Format, params.SampleRate, params.FrameSize, opts, s.onFrames); err != nil {
		return nil, err
	}
	if err := eng.Start(); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return s, nil
}

// ChunkBytes returns the fixed byte length of every callback slice.
func (s *PlaybackStream) ChunkBytes() int { return s.chunk }

// OnDrain registers fn to be notified each time the callback consumes a
// chunk from the accumulator. This is the flow-control signal telling the
// consumer more capacity exists.
func (s *PlaybackStream) OnDrain(fn func()) { s.ev.set(EventDrain, fn) }

// OnFinish registers fn to be invoked exactly once, when a close has
// completed (after buffered audio drained, or immediately if the engine
// stream was already closed).
func (s *PlaybackStream) OnFinish(fn func()) { s.ev.set(EventFinish, fn) }

// OnError registers fn to receive fatal stream errors. Driver debug
// warnings are suppressed unless Params.ShowWarnings is set.
func (s *PlaybackStream) OnError(fn func(err error)) { s.ev.set(EventError, fn) }

// OnUnderflow registers fn to be notified when a callback could not be fully
// served from the accumulator or the driver reported an output underflow.
// Underflows are advisory; the stream keeps running.
func (s *PlaybackStream) OnUnderflow(fn func()) { s.ev.set(EventUnderflow, fn) }

// Running reports whether the hardware stream is currently running.
func (s *PlaybackStream) Running() bool { return s.eng.IsRunning() }

// Latency reports the driver-side latency of the stream.
func (s *PlaybackStream) Latency() (time.Duration, error) { return s.eng.Latency() }

// Write appends chunk to the accumulator. The returned value is the
// flow-control signal: false means the buffered byte count is at or above
// the high-water mark and the consumer should wait for a drain notification;
// true means it is strictly below the mark.
//
// Writes while the hardware stream is not running are acknowledged but
// silently dropped: acknowledgment never implies audibility. Empty chunks
// and writes after End/Finish are rejected with an invalid-use error on the
// error observer.
func (s *PlaybackStream) Write(chunk []byte) bool {
	if len(chunk) == 0 {
		s.ev.fail(engine.Errorf(engine.CodeInvalidUse, "write: empty chunk"))
		return false
	}

	s.mu.Lock()
	if s.closing || s.closed {
		s.mu.Unlock()
		s.ev.fail(engine.Errorf(engine.CodeInvalidUse, "write after end"))
		return false
	}
	s.mu.Unlock()

	if !s.eng.IsRunning() {
		return true
	}

	s.mu.Lock()
	s.acc.append(chunk)
	below := s.acc.len() < s.params.HighWaterMark
	s.mu.Unlock()
	return below
}

// WriteSlices appends several chunks in order. Validation and flow control
// behave as in [PlaybackStream.Write]; the returned value reflects the
// accumulator state after the last chunk.
func (s *PlaybackStream) WriteSlices(chunks ...[]byte) bool {
	accepted := true
	for _, chunk := range chunks {
		accepted = s.Write(chunk)
	}
	return accepted
}

// End requests a close. If the engine stream is still open the close is
// deferred to the callback path so remaining buffered bytes get a chance to
// play out; once the accumulator can no longer fill a whole chunk, the
// stream closes and the finish observer fires (preceded by the error
// observer when err is non-nil). If the engine stream is already closed the
// observers fire immediately. Calling End or Finish again is a no-op.
func (s *PlaybackStream) End(err error) {
	s.mu.Lock()
	if s.closing || s.closed {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.closeErr = err
	s.mu.Unlock()

	if s.eng.IsOpen() && s.eng.IsRunning() {
		go func() {
			<-s.teardown
			_ = s.eng.Abort()
			_ = s.eng.Close()
		}()
		return
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.eng.IsOpen() {
		_ = s.eng.Close()
	}
	s.complete(err)
}

// Finish marks the stream closing without an error: no more writes are
// coming, but buffered audio plays out before the stream tears down.
func (s *PlaybackStream) Finish() { s.End(nil) }

func (s *PlaybackStream) onEngineError(code engine.Code, message string) {
	if code.Suppressible() && !s.params.ShowWarnings {
		return
	}
	s.ev.fail(engine.Errorf(code, "%s", message))
}

// onFrames is the realtime frame callback; out is the engine's output
// buffer, exactly one chunk long. No lock is held while an observer runs.
func (s *PlaybackStream) onFrames(out, _ []byte, _ int, _ time.Duration, status engine.Status) {
	underflowed := status&engine.StatusOutputUnderflow != 0

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		zeroFill(out)
		if underflowed {
			s.ev.signal(EventUnderflow)
		}
		return
	}

	avail := s.acc.len()
	switch {
	case avail >= len(out):
		s.acc.take(out)
		s.mu.Unlock()
		if underflowed {
			s.ev.signal(EventUnderflow)
		}
		s.ev.signal(EventDrain)

	case s.closing:
		// Final short slice: whatever remains plays, the rest is silence,
		// and the deferred close completes.
		n := s.acc.take(out)
		zeroFill(out[n:])
		s.closed = true
		err := s.closeErr
		s.mu.Unlock()
		s.tearOnce.Do(func() { close(s.teardown) })
		if underflowed {
			s.ev.signal(EventUnderflow)
		}
		if n > 0 {
			s.ev.signal(EventDrain)
		}
		s.complete(err)

	default:
		// Starved without a pending close: pad with silence and keep going.
		n := s.acc.take(out)
		zeroFill(out[n:])
		s.mu.Unlock()
		s.ev.signal(EventUnderflow)
		if n > 0 {
			s.ev.signal(EventDrain)
		}
	}
}

// complete fires the close observers. The finished flag guarantees they fire
// at most once even if End raced the callback path.
func (s *PlaybackStream) complete(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()

	if err != nil {
		s.ev.fail(err)
	}
	s.ev.signal(EventFinish)
}

// Writer returns an [io.WriteCloser] view of the stream, so any byte-
// oriented source composes with playback. Write blocks while the stream is
// saturated and resumes on drain; Close finishes the stream and blocks until
// buffered audio has played out. The writer takes over the stream's drain,
// finish and error observers.
func (s *PlaybackStream) Writer() io.WriteCloser {
	w := &playbackWriter{s: s}
	w.cond = sync.NewCond(&w.mu)
	s.OnDrain(w.drained)
	s.OnFinish(w.finished)
	s.OnError(w.failed)
	return w
}

type playbackWriter struct {
	s    *PlaybackStream
	mu   sync.Mutex
	cond *sync.Cond

	saturated bool
	done      bool
	err       error
}

func (w *playbackWriter) drained() {
	w.mu.Lock()
	w.saturated = false
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *playbackWriter) finished() {
	w.mu.Lock()
	w.done = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *playbackWriter) failed(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *playbackWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	for w.saturated && w.err == nil && !w.done {
		w.cond.Wait()
	}
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		return 0, err
	}
	if w.done {
		w.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	w.mu.Unlock()

	if !w.s.Write(p) {
		w.mu.Lock()
		w.saturated = true
		w.mu.Unlock()
	}
	return len(p), nil
}

func (w *playbackWriter) Close() error {
	w.s.Finish()
	w.mu.Lock()
	for !w.done && w.err == nil {
		w.cond.Wait()
	}
	err := w.err
	w.mu.Unlock()
	return err
}
