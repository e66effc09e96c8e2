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
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// APIInfo describes one host audio API (ALSA, PulseAudio, WASAPI, ...).
type APIInfo struct {
	ID   int
	Name string
}

// DeviceInfo describes one audio device as seen by a [Probe]. The ID is the
// value to put into [StreamConfig.DeviceID].
type DeviceInfo struct {
	ID                int
	Name              string
	API               string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate int
	IsDefaultInput    bool
	IsDefaultOutput   bool
}

// DeviceList is the result of a device enumeration. DefaultInput and
// DefaultOutput are indices into Devices, or -1 when the system has no
// default for that direction.
type DeviceList struct {
	Devices       []DeviceInfo
	DefaultInput  int
	DefaultOutput int
}

// Probe enumerates host APIs and audio devices.
type Probe interface {
	APIs() ([]APIInfo, error)
	Devices() (*DeviceList, error)
}

// PortAudioProbe implements [Probe] using the PortAudio library.
type PortAudioProbe struct{}

// NewPortAudioProbe creates a new PortAudio device probe.
func NewPortAudioProbe() *PortAudioProbe {
	return &PortAudioProbe{}
}

// APIs returns the host audio APIs PortAudio was compiled with.
func (p *PortAudioProbe) APIs() ([]APIInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, Wrap(CodeDriverError, "failed to initialize PortAudio", err)
	}
	defer terminateQuietly()

	apis, err := portaudio.HostApis()
	if err != nil {
		return nil, Wrap(CodeDriverError, "failed to enumerate host APIs", err)
	}

	out := make([]APIInfo, 0, len(apis))
	for _, api := range apis {
		out = append(out, APIInfo{ID: int(api.Type), Name: api.Name})
	}
	return out, nil
}

// Devices enumerates all audio devices across host APIs.
func (p *PortAudioProbe) Devices() (*DeviceList, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, Wrap(CodeDriverError, "failed to initialize PortAudio", err)
	}
	defer terminateQuietly()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, Wrap(CodeDriverError, "failed to enumerate devices", err)
	}
	if len(devices) == 0 {
		return nil, Errorf(CodeNoDevicesFound, "no audio devices found")
	}

	// Defaults may legitimately be absent (e.g. a capture-only system).
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	list := &DeviceList{DefaultInput: -1, DefaultOutput: -1}
	for i, dev := range devices {
		info := DeviceInfo{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: int(dev.DefaultSampleRate),
		}
		if dev.HostApi != nil {
			info.API = dev.HostApi.Name
		}
		if dev == defIn {
			info.IsDefaultInput = true
			list.DefaultInput = i
		}
		if dev == defOut {
			info.IsDefaultOutput = true
			list.DefaultOutput = i
		}
		list.Devices = append(list.Devices, info)
	}
	return list, nil
}

// String returns a printable one-line summary of the device.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("[%d] %s (%s, in:%d out:%d, %d Hz)",
		d.ID, d.Name, d.API, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
}

func terminateQuietly() {
	_ = portaudio.Terminate()
}
