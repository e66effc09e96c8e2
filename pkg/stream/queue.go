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

// frameQueue is a FIFO of pending frames. A nil frame at the tail is the
// end-of-stream sentinel. Callers hold the owning stream's lock; the queue
// itself is not synchronized.
type frameQueue struct {
	frames [][]byte
}

func (q *frameQueue) push(frame []byte) {
	q.frames = append(q.frames, frame)
}

// pop removes and returns the head frame. ok is false when the queue is
// empty; a (nil, true) result is the end sentinel.
func (q *frameQueue) pop() (frame []byte, ok bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	frame = q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames[len(q.frames)-1] = nil
	q.frames = q.frames[:len(q.frames)-1]
	return frame, true
}

func (q *frameQueue) len() int {
	return len(q.frames)
}

func (q *frameQueue) clear() {
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.frames = q.frames[:0]
}

// accumulator is a single growable byte buffer appended to by the consumer
// and drained in fixed-size slices by the realtime callback. Callers hold
// the owning stream's lock.
type accumulator struct {
	buf []byte
}

func (a *accumulator) append(p []byte) {
	a.buf = append(a.buf, p...)
}

func (a *accumulator) len() int {
	return len(a.buf)
}

// take copies up to len(dst) bytes from the head into dst, removes them from
// the accumulator and returns the number of bytes copied.
func (a *accumulator) take(dst []byte) int {
	n := copy(dst, a.buf)
	rest := copy(a.buf, a.buf[n:])
	a.buf = a.buf[:rest]
	return n
}

// cloneChunk copies a callback-owned frame before it leaves the callback:
// the engine reuses its buffer on the next invocation.
func cloneChunk(p []byte) []byte {
	c := make([]byte, len(p))
	copy(c, p)
	return c
}

func zeroFill(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
