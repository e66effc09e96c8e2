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

// CaptureStream adapts realtime input callbacks into a pull-style byte
// source with internal queuing and backpressure.
//
// Delivery rules: while the consumer is saturated (the data handler returned
// false, Pause was called, or no handler is attached yet) arriving frames are
// appended to an internal FIFO. Once the consumer is ready again the FIFO
// drains before any new frame is delivered directly, preserving arrival
// order across the queue/direct boundary and bounding the added latency to
// one frame period while the consumer keeps up.
//
// The stream starts in the saturated state; call [CaptureStream.OnData] and
// then [CaptureStream.Resume] to begin receiving chunks.
type CaptureStream struct {
	params Params
	chunk  int
	eng    engine.Engine
	ev     *registry

	mu        sync.Mutex
	buffering bool // consumer has not asked for data, or reported saturation
	stopping  bool // ordered stop requested; drain then end
	clearing  bool // one-shot: discard the next callback's frame and the queue
	endQueued bool // end sentinel already sits at the queue tail
	ended     bool // end signal delivered (or being delivered)
	closed    bool
	queue     frameQueue

	// done is closed exactly once, when the end signal has been delivered.
	done chan struct{}
}

// NewCapture opens an input stream on eng with the given parameters,
// registers the adapter as the frame and error callback and starts the
// hardware stream.
func NewCapture(eng engine.Engine, params Params) (*CaptureStream, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}

	s := &CaptureStream{
		params:    params,
		chunk:     params.ChunkBytes(),
		eng:       eng,
		ev:        newRegistry(),
		buffering: true,
		done:      make(chan struct{}),
	}

	in := &engine.StreamConfig{
		DeviceID:     params.DeviceID,
		Channels:     params.Channels,
		FirstChannel: params.FirstChannel,
	}
	opts := &engine.StreamOptions{Flags: params.Flags}

	eng.SetErrorCallback(s.onEngineError)
	if err := eng.Open(nil, in, params.Format, params.SampleRate, params.FrameSize, opts, s.onFrames); err != nil {
		return nil, err
	}
	if err := eng.Start(); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return s, nil
}

// ChunkBytes returns the fixed byte length of every delivered chunk.
func (s *CaptureStream) ChunkBytes() int { return s.chunk }

// OnData registers fn as the data observer. fn receives each captured chunk
// (exactly ChunkBytes long, owned by the consumer) and returns whether the
// consumer can accept more; returning false makes subsequent frames queue
// until [CaptureStream.Resume] is called.
func (s *CaptureStream) OnData(fn func(chunk []byte) bool) { s.ev.set(EventData, fn) }

// OnEnd registers fn to be invoked exactly once, after the last chunk of an
// ordered stop (or a close) has been delivered.
func (s *CaptureStream) OnEnd(fn func()) { s.ev.set(EventEnd, fn) }

// OnError registers fn to receive fatal stream errors. Driver debug warnings
// are suppressed unless Params.ShowWarnings is set.
func (s *CaptureStream) OnError(fn func(err error)) { s.ev.set(EventError, fn) }

// OnOverflow registers fn to be notified when the driver reports an input
// overflow. Overflows are advisory; the stream keeps running.
func (s *CaptureStream) OnOverflow(fn func()) { s.ev.set(EventOverflow, fn) }

// Pause suspends delivery: frames arriving after Pause are queued in order
// instead of being handed to the data observer. This is consumer-side flow
// control; the hardware keeps capturing.
func (s *CaptureStream) Pause() {
	s.mu.Lock()
	s.buffering = true
	s.mu.Unlock()
}

// Resume signals readiness to receive data. Any queued frames are delivered
// to the data observer in arrival order before direct delivery resumes; if
// the queue is empty, the next callback's frame is delivered directly.
// Resume never fabricates data.
func (s *CaptureStream) Resume() {
	for {
		s.mu.Lock()
		if s.closed || s.ended {
			s.mu.Unlock()
			return
		}
		head, ok := s.queue.pop()
		if !ok {
			// Queue drained; let the callback deliver directly from now on.
			s.buffering = false
			s.mu.Unlock()
			return
		}
		if head == nil {
			s.ended = true
			s.mu.Unlock()
			s.finishEnd()
			return
		}
		s.mu.Unlock()

		if !s.ev.dataHandler(head) {
			s.mu.Lock()
			s.buffering = true
			s.mu.Unlock()
			return
		}
	}
}

// Stop requests an ordered stop. The hardware stream is not torn down
// immediately: every frame captured before the request is still delivered in
// order, then the end signal fires exactly once and the engine stream is
// closed.
func (s *CaptureStream) Stop() {
	s.mu.Lock()
	if s.stopping || s.closed {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	go func() {
		<-s.done
		_ = s.Close()
	}()
}

// PauseHardware aborts the underlying engine stream, halting callback
// invocations. Unlike [CaptureStream.Pause] this stops the device itself.
func (s *CaptureStream) PauseHardware() error {
	return s.eng.Abort()
}

// ResumeHardware restarts the engine stream after a PauseHardware. The queue
// is cleared and the very next callback's frame is discarded, so no frame
// captured before the pause can surface after the resume.
func (s *CaptureStream) ResumeHardware() error {
	s.mu.Lock()
	s.queue.clear()
	s.endQueued = false
	s.clearing = true
	s.mu.Unlock()
	return s.eng.Start()
}

// Close tears the stream down: the engine stream is closed if still open and
// the end signal fires if it has not already. Closing twice is a no-op.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	alreadyEnded := s.ended
	s.ended = true
	s.mu.Unlock()

	var err error
	if s.eng.IsOpen() {
		_ = s.eng.Abort()
		err = s.eng.Close()
	}
	if !alreadyEnded {
		s.finishEnd()
	}
	return err
}

// Latency reports the driver-side latency of the stream.
func (s *CaptureStream) Latency() (time.Duration, error) { return s.eng.Latency() }

// onEngineError is the engine's asynchronous error callback. Everything
// above the debug-warning severity threshold is surfaced as a fatal stream
// error.
func (s *CaptureStream) onEngineError(code engine.Code, message string) {
	if code.Suppressible() && !s.params.ShowWarnings {
		return
	}
	s.ev.fail(engine.Errorf(code, "%s", message))
}

// onFrames is the realtime frame callback. It must not block: every critical
// section below is a short queue mutation, and no lock is held while a
// consumer observer runs.
func (s *CaptureStream) onFrames(_, in []byte, _ int, _ time.Duration, status engine.Status) {
	s.mu.Lock()
	if s.clearing {
		// First callback of a new hardware session: the frame in flight
		// belongs to the old session.
		s.clearing = false
		s.queue.clear()
		s.mu.Unlock()
		return
	}
	if s.closed || s.ended {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if status&engine.StatusInputOverflow != 0 {
		s.ev.signal(EventOverflow)
	}

	s.mu.Lock()
	if s.clearing || s.closed || s.ended {
		s.mu.Unlock()
		return
	}

	if s.stopping {
		s.drainForStop()
		return
	}

	// FIFO pass-through with single-frame pipelining.
	if s.buffering {
		s.queue.push(cloneChunk(in))
		s.mu.Unlock()
		return
	}
	head, ok := s.queue.pop()
	if !ok {
		s.mu.Unlock()
		s.deliver(cloneChunk(in))
		return
	}
	s.queue.push(cloneChunk(in))
	s.mu.Unlock()
	s.deliver(head)
}

// drainForStop handles one callback invocation after an ordered stop: the
// incoming frame is dropped, queued frames keep flowing to a ready consumer,
// and once the queue is empty the end signal fires (or the sentinel is
// queued for a saturated consumer). Called with s.mu held; releases it.
func (s *CaptureStream) drainForStop() {
	if s.buffering {
		if !s.endQueued {
			s.queue.push(nil)
			s.endQueued = true
		}
		s.mu.Unlock()
		return
	}
	head, ok := s.queue.pop()
	if !ok || head == nil {
		s.ended = true
		s.mu.Unlock()
		s.finishEnd()
		return
	}
	s.mu.Unlock()
	s.deliver(head)
}

// deliver hands one chunk to the data observer and records saturation
// feedback. Never called with s.mu held.
func (s *CaptureStream) deliver(chunk []byte) {
	if !s.ev.dataHandler(chunk) {
		s.mu.Lock()
		s.buffering = true
		s.mu.Unlock()
	}
}

// finishEnd emits the end signal. Callers must have won the s.ended
// transition, which guarantees exactly one emission.
func (s *CaptureStream) finishEnd() {
	s.ev.signal(EventEnd)
	close(s.done)
}

// Reader returns an [io.ReadCloser] view of the stream, so captured audio
// composes with any byte-oriented sink. The reader takes over the stream's
// data, end and error observers and resumes the stream; Read blocks until
// data arrives and returns io.EOF after the end signal. Closing the reader
// closes the stream.
func (s *CaptureStream) Reader() io.ReadCloser {
	r := &captureReader{s: s, hwm: s.params.HighWaterMark}
	r.cond = sync.NewCond(&r.mu)
	s.OnData(r.push)
	s.OnEnd(r.finish)
	s.OnError(r.fail)
	s.Resume()
	return r
}

type captureReader struct {
	s    *CaptureStream
	hwm  int
	mu   sync.Mutex
	cond *sync.Cond

	buf    []byte
	paused bool
	eof    bool
	err    error
	closed bool
}

func (r *captureReader) push(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.buf = append(r.buf, chunk...)
	r.cond.Broadcast()
	if len(r.buf) >= r.hwm {
		r.paused = true
		return false
	}
	return true
}

func (r *captureReader) finish() {
	r.mu.Lock()
	r.eof = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *captureReader) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *captureReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	for len(r.buf) == 0 && !r.eof && r.err == nil && !r.closed {
		r.cond.Wait()
	}
	if len(r.buf) == 0 {
		err := r.err
		r.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	n := copy(p, r.buf)
	rest := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
	resume := r.paused && len(r.buf) < r.hwm
	if resume {
		r.paused = false
	}
	r.mu.Unlock()

	if resume {
		r.s.Resume()
	}
	return n, nil
}

func (r *captureReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
	return r.s.Close()
}
