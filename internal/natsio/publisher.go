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

// Package natsio moves capture chunks over NATS subjects and feeds received
// chunks into a playback sink. One JSON envelope per chunk; the stream end
// is a final envelope with no payload and the end flag set.
package natsio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// ChunkMessage is the JSON envelope carrying one capture chunk
type ChunkMessage struct {
	SourceID   string `json:"source_id"`   // Identifier of the capturing source
	Sequence   uint64 `json:"sequence"`    // Monotonic per-stream chunk counter
	Format     string `json:"format"`      // PCM sample format (e.g. "s16le")
	SampleRate int    `json:"sample_rate"` // Sample rate in Hz
	Channels   int    `json:"channels"`    // Interleaved channel count
	Chunk      []byte `json:"chunk"`       // Raw PCM payload, empty on end
	End        bool   `json:"end"`         // Final message of the stream
}

// Subject returns the NATS subject chunks from source are published on
func Subject(sourceID string) string {
	return fmt.Sprintf("audio.%s", sourceID)
}

// BroadcastSubject is the subject every sink listens on
const BroadcastSubject = "audio.broadcast"

// PublisherConnection is the slice of *nats.Conn the publisher needs,
// extracted for dependency injection in tests
type PublisherConnection interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

// ChunkSource is the capture-side surface the publisher pumps from. A
// *stream.CaptureStream satisfies it.
type ChunkSource interface {
	ChunkBytes() int
	Reader() io.ReadCloser
}

// StreamInfo describes the PCM layout stamped on every envelope
type StreamInfo struct {
	Format     string
	SampleRate int
	Channels   int
}

// Publisher publishes a capture stream's chunks to NATS
type Publisher struct {
	conn     PublisherConnection
	sourceID string
	info     StreamInfo
	sequence uint64
}

// NewPublisher connects to NATS and creates a publisher for sourceID
func NewPublisher(natsURL, sourceID string, info StreamInfo) (*Publisher, error) {
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
	return NewPublisherWithConnection(nc, sourceID, info), nil
}

// NewPublisherWithConnection creates a publisher over an existing
// connection (for testing)
func NewPublisherWithConnection(conn PublisherConnection, sourceID string, info StreamInfo) *Publisher {
	return &Publisher{
		conn:     conn,
		sourceID: sourceID,
		info:     info,
	}
}

// PublishStream pumps chunks from source until it ends, then publishes the
// end envelope. Blocks until the stream is over; run it in a goroutine when
// capture should proceed concurrently.
func (p *Publisher) PublishStream(source ChunkSource) error {
	subject := Subject(p.sourceID)
	log.Printf("📡 Publishing capture chunks on %s", subject)

	r := source.Reader()
	defer func() {
		if err := r.Close(); err != nil {
			log.Printf("⚠️ Failed to close capture reader: %v", err)
		}
	}()

	buf := make([]byte, source.ChunkBytes())
	for {
		_, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			if pubErr := p.publish(subject, nil, true); pubErr != nil {
				return fmt.Errorf("failed to publish stream end: %w", pubErr)
			}
			log.Printf("📡 Stream ended after %d chunks", p.sequence)
			return p.conn.Flush()
		}
		if err != nil {
			return fmt.Errorf("capture read failed: %w", err)
		}

		if err := p.publish(subject, buf, false); err != nil {
			return fmt.Errorf("failed to publish chunk: %w", err)
		}
	}
}

func (p *Publisher) publish(subject string, chunk []byte, end bool) error {
	p.sequence++
	msg := ChunkMessage{
		SourceID:   p.sourceID,
		Sequence:   p.sequence,
		Format:     p.info.Format,
		SampleRate: p.info.SampleRate,
		Channels:   p.info.Channels,
		Chunk:      chunk,
		End:        end,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk message: %w", err)
	}
	return p.conn.Publish(subject, data)
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		log.Println("🔌 NATS connection closed")
	}
}
