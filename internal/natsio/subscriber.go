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

package natsio

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// SubscriberConnection is the slice of *nats.Conn the subscriber needs,
// extracted for dependency injection in tests
type SubscriberConnection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// subscriberConnAdapter adapts *nats.Conn to SubscriberConnection
type subscriberConnAdapter struct {
	conn *nats.Conn
}

func (a *subscriberConnAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *subscriberConnAdapter) Close() {
	a.conn.Close()
}

// ChunkSink is the playback-side surface incoming chunks are written to. A
// *stream.PlaybackStream satisfies it.
type ChunkSink interface {
	Write(chunk []byte) bool
	Finish()
}

// Subscriber feeds chunks arriving over NATS into a playback sink
type Subscriber struct {
	conn   SubscriberConnection
	sinkID string
	sink   ChunkSink
}

// NewSubscriber connects to NATS and creates a subscriber feeding sink
func NewSubscriber(natsURL, sinkID string, sink ChunkSink) (*Subscriber, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(natsURL)
		if err == nil {
			break
		}
		log.Printf("⚠️  Failed to connect to NATS (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after 5 attempts: %w", err)
	}

	log.Printf("✅ Connected to NATS at %s", natsURL)
	return NewSubscriberWithConnection(&subscriberConnAdapter{conn: nc}, sinkID, sink), nil
}

// NewSubscriberWithConnection creates a subscriber over an existing
// connection (for testing)
func NewSubscriberWithConnection(conn SubscriberConnection, sinkID string, sink ChunkSink) *Subscriber {
	return &Subscriber{
		conn:   conn,
		sinkID: sinkID,
		sink:   sink,
	}
}

// Start subscribes to the sink-specific and broadcast audio subjects
func (s *Subscriber) Start() error {
	sinkSubject := Subject(s.sinkID)
	if _, err := s.conn.Subscribe(sinkSubject, s.handleChunkMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sinkSubject, err)
	}

	if _, err := s.conn.Subscribe(BroadcastSubject, s.handleChunkMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", BroadcastSubject, err)
	}

	log.Printf("🎧 Subscribed to audio subjects: %s, %s", sinkSubject, BroadcastSubject)
	return nil
}

// handleChunkMessage pushes one incoming chunk into the playback sink.
// Writes while the sink is stopped are acknowledged-and-dropped by the sink
// itself, so no state needs tracking here.
func (s *Subscriber) handleChunkMessage(msg *nats.Msg) {
	var chunkMsg ChunkMessage
	if err := json.Unmarshal(msg.Data, &chunkMsg); err != nil {
		log.Printf("❌ Failed to unmarshal chunk message: %v", err)
		return
	}

	if chunkMsg.End {
		log.Printf("🔊 Stream from %s ended at sequence %d", chunkMsg.SourceID, chunkMsg.Sequence)
		s.sink.Finish()
		return
	}

	if len(chunkMsg.Chunk) == 0 {
		log.Printf("⚠️  Dropping empty chunk from %s (sequence %d)", chunkMsg.SourceID, chunkMsg.Sequence)
		return
	}

	if !s.sink.Write(chunkMsg.Chunk) {
		// Saturated: the sink buffered the chunk anyway, this is just the
		// flow-control signal. NATS has no per-message backpressure to
		// propagate it to, so note it and move on.
		log.Printf("⚠️  Playback sink saturated (source %s, sequence %d)", chunkMsg.SourceID, chunkMsg.Sequence)
	}
}

// Close closes the NATS connection
func (s *Subscriber) Close() {
	if s.conn != nil {
		s.conn.Close()
		log.Println("🔌 NATS connection closed")
	}
}
