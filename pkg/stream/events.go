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

import "sync"

// Event names the signals an adapter can emit. Capture streams emit
// EventData, EventEnd, EventError and EventOverflow; playback streams emit
// EventDrain, EventFinish, EventError and EventUnderflow.
type Event int

const (
	EventData Event = iota
	EventEnd
	EventError
	EventOverflow
	EventDrain
	EventFinish
	EventUnderflow
)

// String returns the name of the event.
func (e Event) String() string {
	switch e {
	case EventData:
		return "data"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	case EventOverflow:
		return "overflow"
	case EventDrain:
		return "drain"
	case EventFinish:
		return "finish"
	case EventUnderflow:
		return "underflow"
	}
	return "unknown"
}

// registry is the enum-keyed observer table shared by both adapters. One
// handler per event; setting a handler replaces the previous one. Handlers
// are looked up under a read lock but always invoked with no lock held, so a
// handler may synchronously call back into its stream.
type registry struct {
	mu       sync.RWMutex
	handlers map[Event]interface{}
}

func newRegistry() *registry {
	return &registry{handlers: make(map[Event]interface{})}
}

func (r *registry) set(ev Event, h interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[ev] = h
}

func (r *registry) lookup(ev Event) interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[ev]
}

// dataHandler invokes the data observer. The return value is the saturation
// feedback: false means the consumer cannot accept more right now. With no
// observer registered the stream counts as saturated, so frames queue until
// a handler is attached.
func (r *registry) dataHandler(chunk []byte) bool {
	if h, ok := r.lookup(EventData).(func([]byte) bool); ok && h != nil {
		return h(chunk)
	}
	return false
}

func (r *registry) signal(ev Event) {
	if h, ok := r.lookup(ev).(func()); ok && h != nil {
		h()
	}
}

func (r *registry) fail(err error) {
	if h, ok := r.lookup(EventError).(func(error)); ok && h != nil {
		h(err)
	}
}
