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

package transport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// ChunkSource is the capture-side surface the client pumps from. A
// *stream.CaptureStream satisfies it; tests substitute their own.
type ChunkSource interface {
	ChunkBytes() int
	Reader() io.ReadCloser
	Stop()
}

// StreamInfo describes the PCM layout announced in the handshake.
type StreamInfo struct {
	Format     string
	SampleRate int
	Channels   int
}

// ChunkClient pumps a capture source's chunks to the hub over HTTP
// streaming. Backpressure is end to end: the source's reader blocks the
// pump while the hub is slow, and the source queues frames until the pump
// catches up.
type ChunkClient struct {
	streamingClient *HTTPStreamingClient
	hubAddress      string
	sourceID        string
	info            StreamInfo
	isConnected     bool
	stopHeartbeat   chan struct{}
}

// NewChunkClient creates a new chunk client for HTTP streaming
func NewChunkClient(hubAddress, sourceID string, info StreamInfo) *ChunkClient {
	return &ChunkClient{
		streamingClient: NewHTTPStreamingClient(hubAddress, sourceID),
		hubAddress:      hubAddress,
		sourceID:        sourceID,
		info:            info,
		isConnected:     false,
		stopHeartbeat:   make(chan struct{}),
	}
}

// Connect establishes the connection to the hub and announces the stream
// parameters.
func (cc *ChunkClient) Connect() error {
	log.Printf("🔗 Source: Connecting to hub at %s", cc.hubAddress)

	if err := cc.streamingClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}

	if err := cc.streamingClient.SendHandshake(cc.info.Format, cc.info.SampleRate, cc.info.Channels); err != nil {
		cc.streamingClient.Disconnect()
		return fmt.Errorf("handshake failed: %w", err)
	}

	cc.isConnected = true
	log.Printf("✅ Source: Connected to hub")
	return nil
}

// StreamChunks pumps chunks from source to the hub until the source ends.
// It blocks until the stream end frame has been sent, so callers usually
// run it in a goroutine.
func (cc *ChunkClient) StreamChunks(source ChunkSource) error {
	if !cc.isConnected {
		return fmt.Errorf("not connected to hub")
	}

	frameHandler := func(frame *Frame) error {
		return cc.handleIncomingFrame(frame, source)
	}
	if err := cc.streamingClient.StartStreaming(frameHandler); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}

	go cc.startHeartbeat()

	log.Println("🎙️ Source: Chunk streaming started")

	r := source.Reader()
	defer func() {
		if err := r.Close(); err != nil {
			log.Printf("⚠️ Failed to close capture reader: %v", err)
		}
	}()

	buf := make([]byte, source.ChunkBytes())
	chunkCount := 0
	for {
		_, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			log.Println("🎙️ Source: Capture ended")
			return cc.streamingClient.SendStreamEnd()
		}
		if err != nil {
			return fmt.Errorf("capture read failed: %w", err)
		}

		if err := cc.streamingClient.SendChunk(buf); err != nil {
			log.Printf("❌ Failed to send chunk: %v", err)
			continue
		}

		chunkCount++
		if chunkCount%50 == 0 {
			log.Printf("📤 Source: Sent %d chunks", chunkCount)
		}
	}
}

// handleIncomingFrame processes frames received from the hub
func (cc *ChunkClient) handleIncomingFrame(frame *Frame, source ChunkSource) error {
	switch frame.Type {
	case FrameTypeStreamEnd:
		// Hub asked us to wrap up: ordered stop, buffered chunks still flow
		log.Println("📥 Source: Hub requested stream end")
		source.Stop()

	case FrameTypeStatus:
		log.Printf("📥 Source: Received status frame (%d bytes)", len(frame.Data))

	case FrameTypeHeartbeat:
		// Hub is alive, no action needed

	case FrameTypeError:
		log.Printf("❌ Source: Received error frame: %s", string(frame.Data))

	default:
		log.Printf("⚠️ Source: Received unknown frame type: %d", frame.Type)
	}

	return nil
}

// startHeartbeat sends periodic heartbeats to keep the connection alive
func (cc *ChunkClient) startHeartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cc.isConnected {
				if err := cc.streamingClient.SendHeartbeat(); err != nil {
					log.Printf("⚠️ Failed to send heartbeat: %v", err)
				}
			}
		case <-cc.stopHeartbeat:
			return
		}
	}
}

// Disconnect closes the connection to the hub
func (cc *ChunkClient) Disconnect() {
	if cc.isConnected {
		close(cc.stopHeartbeat)
	}
	if cc.streamingClient != nil {
		cc.streamingClient.Disconnect()
	}
	cc.isConnected = false
	log.Println("🔗 Source: Disconnected from hub")
}

// IsConnected returns whether the client is currently connected
func (cc *ChunkClient) IsConnected() bool {
	return cc.isConnected && cc.streamingClient.IsConnected()
}
