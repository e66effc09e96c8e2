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
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioEngine implements [Engine] on top of the PortAudio library. It is
// a thin pass-through: the engine converts between PortAudio's typed sample
// buffers and the byte buffers of the [Callback] contract, and maps driver
// failures onto the error taxonomy. One engine instance owns at most one
// PortAudio stream.
//
// Limitations of the PortAudio backend: 64-bit float streams, non-interleaved
// buffers and first-channel offsets are rejected with CodeInvalidParameter.
type PortAudioEngine struct {
	stream  *portaudio.Stream
	open    bool
	running bool

	cb    Callback
	errCb ErrorCallback

	// Scratch buffers reused by every callback invocation. Kept
	// pre-allocated so the realtime path never allocates.
	inBytes  []byte
	outBytes []byte
	inChans  int
	outChans int
}

// NewPortAudioEngine creates a new, unopened PortAudio engine.
func NewPortAudioEngine() *PortAudioEngine {
	return &PortAudioEngine{}
}

// Open configures and opens the PortAudio stream.
func (e *PortAudioEngine) Open(out, in *StreamConfig, format Format, sampleRate, frameSize int, opts *StreamOptions, cb Callback) error {
	if e.open {
		return Errorf(CodeInvalidUse, "stream already open")
	}
	if out == nil && in == nil {
		return Errorf(CodeInvalidParameter, "neither input nor output parameters given")
	}
	if cb == nil {
		return Errorf(CodeInvalidParameter, "no frame callback given")
	}
	if format == FormatFloat64 {
		return Errorf(CodeInvalidParameter, "PortAudio does not support 64-bit float streams")
	}
	if opts != nil && opts.Flags&FlagNoninterleaved != 0 {
		return Errorf(CodeInvalidParameter, "PortAudio backend does not support non-interleaved buffers")
	}
	if (out != nil && out.FirstChannel != 0) || (in != nil && in.FirstChannel != 0) {
		return Errorf(CodeInvalidParameter, "PortAudio backend does not support channel offsets")
	}
	if sampleRate <= 0 || frameSize <= 0 {
		return Errorf(CodeInvalidParameter, "sample rate and frame size must be positive")
	}

	if err := portaudio.Initialize(); err != nil {
		return Wrap(CodeDriverError, "failed to initialize PortAudio", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		terminateQuietly()
		return Wrap(CodeDriverError, "failed to enumerate devices", err)
	}

	var p portaudio.StreamParameters
	p.SampleRate = float64(sampleRate)
	p.FramesPerBuffer = frameSize

	bps := format.BytesPerSample()
	if in != nil {
		dev, err := deviceByID(devices, in.DeviceID)
		if err != nil {
			terminateQuietly()
			return err
		}
		p.Input = portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: in.Channels,
			Latency:  dev.DefaultLowInputLatency,
		}
		e.inChans = in.Channels
		e.inBytes = make([]byte, frameSize*in.Channels*bps)
	}
	if out != nil {
		dev, err := deviceByID(devices, out.DeviceID)
		if err != nil {
			terminateQuietly()
			return err
		}
		p.Output = portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: out.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		}
		e.outChans = out.Channels
		e.outBytes = make([]byte, frameSize*out.Channels*bps)
	}

	e.cb = cb
	stream, err := portaudio.OpenStream(p, e.callbackFor(format))
	if err != nil {
		e.reset()
		terminateQuietly()
		return Wrap(CodeDriverError, "failed to open stream", err)
	}

	e.stream = stream
	e.open = true
	return nil
}

// Start begins callback invocations on the PortAudio thread.
func (e *PortAudioEngine) Start() error {
	if !e.open {
		return Errorf(CodeInvalidUse, "stream is not open")
	}
	if e.running {
		return nil
	}
	if err := e.stream.Start(); err != nil {
		return Wrap(CodeDriverError, "failed to start stream", err)
	}
	e.running = true
	return nil
}

// Abort stops the stream immediately, discarding driver-buffered audio.
func (e *PortAudioEngine) Abort() error {
	if !e.open || !e.running {
		return nil
	}
	e.running = false
	if err := e.stream.Abort(); err != nil {
		return Wrap(CodeDriverError, "failed to abort stream", err)
	}
	return nil
}

// Close releases the stream and the PortAudio subsystem. Closing an unopened
// engine is a no-op.
func (e *PortAudioEngine) Close() error {
	if !e.open {
		return nil
	}
	e.open = false
	e.running = false
	err := e.stream.Close()
	e.reset()
	terminateQuietly()
	if err != nil {
		return Wrap(CodeDriverError, "failed to close stream", err)
	}
	return nil
}

func (e *PortAudioEngine) IsOpen() bool    { return e.open }
func (e *PortAudioEngine) IsRunning() bool { return e.running }

// Latency reports the driver-side latency of the open stream. For duplex
// streams the larger of the two directions is returned.
func (e *PortAudioEngine) Latency() (time.Duration, error) {
	if !e.open {
		return 0, Errorf(CodeInvalidUse, "stream is not open")
	}
	info := e.stream.Info()
	if info.InputLatency > info.OutputLatency {
		return info.InputLatency, nil
	}
	return info.OutputLatency, nil
}

// SampleRate reports the actual sample rate of the open stream.
func (e *PortAudioEngine) SampleRate() (int, error) {
	if !e.open {
		return 0, Errorf(CodeInvalidUse, "stream is not open")
	}
	return int(e.stream.Info().SampleRate), nil
}

// Time reports the stream clock.
func (e *PortAudioEngine) Time() (time.Duration, error) {
	if !e.open {
		return 0, Errorf(CodeInvalidUse, "stream is not open")
	}
	return e.stream.Time(), nil
}

// SetErrorCallback registers fn to receive asynchronous driver errors.
func (e *PortAudioEngine) SetErrorCallback(fn ErrorCallback) {
	e.errCb = fn
}

func (e *PortAudioEngine) reset() {
	e.stream = nil
	e.cb = nil
	e.inBytes = nil
	e.outBytes = nil
	e.inChans = 0
	e.outChans = 0
}

// fire forwards one PortAudio invocation to the registered callback with the
// driver flags translated into the engine's status bits.
func (e *PortAudioEngine) fire(frameCount int, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	var status Status
	if flags&portaudio.InputOverflow != 0 {
		status |= StatusInputOverflow
	}
	if flags&portaudio.OutputUnderflow != 0 {
		status |= StatusOutputUnderflow
	}
	e.cb(e.outBytes, e.inBytes, frameCount, ti.CurrentTime, status)
}

// callbackFor builds the typed PortAudio callback matching the stream's
// format and direction.
func (e *PortAudioEngine) callbackFor(format Format) interface{} {
	switch format {
	case FormatInt8:
		return streamFunc[int8](e)
	case FormatInt32:
		return streamFunc[int32](e)
	case FormatFloat32:
		return streamFunc[float32](e)
	default:
		return streamFunc[int16](e)
	}
}

// streamFunc instantiates the callback for one sample type. PortAudio
// dispatches on the concrete function signature, so the three stream shapes
// (duplex, input-only, output-only) need distinct closures.
func streamFunc[S paSample](e *PortAudioEngine) interface{} {
	switch {
	case e.inChans > 0 && e.outChans > 0:
		return func(inBuf, outBuf []S, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			encodeSamples(e.inBytes, inBuf)
			e.fire(len(inBuf)/e.inChans, ti, flags)
			decodeSamples(e.outBytes, outBuf)
		}
	case e.inChans > 0:
		return func(inBuf []S, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			encodeSamples(e.inBytes, inBuf)
			e.fire(len(inBuf)/e.inChans, ti, flags)
		}
	default:
		return func(outBuf []S, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			e.fire(len(outBuf)/e.outChans, ti, flags)
			decodeSamples(e.outBytes, outBuf)
		}
	}
}

func deviceByID(devices []*portaudio.DeviceInfo, id int) (*portaudio.DeviceInfo, error) {
	if id < 0 || id >= len(devices) {
		return nil, Errorf(CodeInvalidDevice, "no device with ID %d", id)
	}
	return devices[id], nil
}
