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

// Package stream adapts the fixed-cadence realtime frame callback of an
// audio engine to consumer-driven byte streams with backpressure.
//
// The two adapters are symmetric:
//
//   - [CaptureStream] turns input callbacks into a pull-style byte source.
//     Frames arriving while the consumer is saturated are queued in order;
//     once the consumer is ready again the queue drains before new frames
//     are delivered directly, so arrival order is always preserved and at
//     most one frame period of latency is added.
//   - [PlaybackStream] turns pushed bytes into output callbacks by slicing
//     an internal accumulator into fixed-size chunks. Closing while data is
//     buffered defers the actual teardown until the accumulator has drained.
//
// Both adapters expose an enum-keyed observer surface ([Event]) rather than
// channels: the realtime callback must complete in bounded time and never
// block on the consumer, so all signalling is one-shot handler invocation
// with the saturation return value of the data handler as the only
// backpressure channel.
package stream

import (
	"github.com/hamitzor/sonance/pkg/engine"
)

// Params are the construction-time, immutable parameters of a stream.
// FrameSize, Channels and Format together fix the chunk byte length for the
// lifetime of the stream: every capture delivery and every playback slice is
// exactly ChunkBytes long (except the final playback slice before a close).
type Params struct {
	// DeviceID selects the device, as enumerated by an [engine.Probe].
	DeviceID int

	// Channels is the number of channels to open.
	Channels int

	// FirstChannel is the offset of the first channel on the device
	// (default 0).
	FirstChannel int

	// Format is the PCM sample format. The zero value is
	// [engine.FormatInt16].
	Format engine.Format

	// SampleRate in Hz.
	SampleRate int

	// FrameSize is the frame count per callback invocation.
	FrameSize int

	// Flags are optional driver hints.
	Flags engine.StreamFlags

	// HighWaterMark is the byte threshold above which the stream's internal
	// buffering counts as full for flow control. Defaults to one chunk.
	HighWaterMark int

	// ShowWarnings surfaces suppressible debug-level driver warnings as
	// stream errors. Off by default.
	ShowWarnings bool
}

// ChunkBytes returns the fixed byte length of one frame callback's worth of
// audio: FrameSize x Channels x bytes per sample.
func (p Params) ChunkBytes() int {
	return p.FrameSize * p.Channels * p.Format.BytesPerSample()
}

// normalize validates the parameters and fills in defaults.
func (p *Params) normalize() error {
	if p.Channels <= 0 {
		return engine.Errorf(engine.CodeInvalidParameter, "channel count must be positive, got %d", p.Channels)
	}
	if p.FirstChannel < 0 {
		return engine.Errorf(engine.CodeInvalidParameter, "first channel must not be negative, got %d", p.FirstChannel)
	}
	if p.SampleRate <= 0 {
		return engine.Errorf(engine.CodeInvalidParameter, "sample rate must be positive, got %d", p.SampleRate)
	}
	if p.FrameSize <= 0 {
		return engine.Errorf(engine.CodeInvalidParameter, "frame size must be positive, got %d", p.FrameSize)
	}
	if p.Format.BytesPerSample() == 0 {
		return engine.Errorf(engine.CodeInvalidParameter, "unknown sample format")
	}
	if p.HighWaterMark < 0 {
		return engine.Errorf(engine.CodeInvalidParameter, "high-water mark must not be negative, got %d", p.HighWaterMark)
	}
	if p.HighWaterMark == 0 {
		p.HighWaterMark = p.ChunkBytes()
	}
	return nil
}
