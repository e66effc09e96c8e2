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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// HTTPStreamingClient handles HTTP/1.1 streaming communication with a hub
// that collects PCM chunk streams from capture sources.
type HTTPStreamingClient struct {
	hubURL         string
	sourceID       string
	sessionID      string
	sequence       uint32
	mutex          sync.Mutex
	connectTimeout time.Duration

	client      *http.Client
	isConnected bool

	ctx    context.Context
	cancel context.CancelFunc

	// Long-lived download stream carrying control frames from the hub
	response *http.Response
	reader   *bufio.Reader
}

// NewHTTPStreamingClient creates a new HTTP streaming client
func NewHTTPStreamingClient(hubURL, sourceID string) *HTTPStreamingClient {
	ctx, cancel := context.WithCancel(context.Background())

	// Aggressive cleanup settings so shutdown does not linger on idle
	// connections
	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     1 * time.Second,
		DisableKeepAlives:   true,
		ForceAttemptHTTP2:   false,
	}

	return &HTTPStreamingClient{
		hubURL:         hubURL,
		sourceID:       sourceID,
		sessionID:      generateSessionID(),
		sequence:       0,
		connectTimeout: 10 * time.Second,
		client: &http.Client{
			Timeout:   0, // no timeout for persistent streaming
			Transport: transport,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetConnectTimeout sets the connection timeout for testing
func (c *HTTPStreamingClient) SetConnectTimeout(timeout time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.connectTimeout = timeout
}

// Connect establishes the HTTP streaming connection to the hub
func (c *HTTPStreamingClient) Connect() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isConnected {
		return fmt.Errorf("already connected")
	}

	log.Printf("🔗 Connecting to hub at %s", c.hubURL)

	u, err := url.Parse(c.hubURL)
	if err != nil {
		return fmt.Errorf("invalid hub URL: %w", err)
	}

	streamURL := fmt.Sprintf("http://%s/stream/source?source_id=%s", u.Host, c.sourceID)

	req, err := http.NewRequestWithContext(c.ctx, "POST", streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Transfer-Encoding", "chunked")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("X-Source-ID", c.sourceID)
	req.Header.Set("X-Session-ID", c.sessionID)

	responseChan := make(chan *http.Response, 1)
	errorChan := make(chan error, 1)

	go func() {
		resp, err := c.client.Do(req)
		if err != nil {
			errorChan <- err
			return
		}
		responseChan <- resp
	}()

	select {
	case resp := <-responseChan:
		if resp.StatusCode != http.StatusOK {
			if err := resp.Body.Close(); err != nil {
				log.Printf("⚠️ Failed to close response body: %v", err)
			}
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		c.response = resp
		c.reader = bufio.NewReader(resp.Body)

	case err := <-errorChan:
		return fmt.Errorf("failed to connect to hub: %w", err)

	case <-time.After(c.connectTimeout):
		return fmt.Errorf("connection timeout")
	}

	c.isConnected = true
	log.Printf("✅ Connected to hub (session: %s)", c.sessionID)
	return nil
}

// SendHandshake announces the stream parameters to the hub. The hub needs
// the format line to interpret the raw PCM payloads that follow.
func (c *HTTPStreamingClient) SendHandshake(format string, sampleRate, channels int) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to hub")
	}

	handshakeData := fmt.Sprintf("session:%s;source:%s;format:%s;rate:%d;channels:%d",
		c.sessionID, c.sourceID, format, sampleRate, channels)

	log.Printf("🤝 Sending handshake frame (session: %s)", c.sessionID)
	return c.SendFrame(FrameTypeHandshake, []byte(handshakeData))
}

// SendFrame sends one frame to the hub via a separate HTTP request.
// HTTP/1.1 cannot do true bidirectional streaming on a single connection,
// so uploads go through per-frame POSTs while the long-lived connection
// carries the hub's frames down.
func (c *HTTPStreamingClient) SendFrame(frameType FrameType, data []byte) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to hub")
	}

	c.mutex.Lock()
	c.sequence++
	seq := c.sequence
	c.mutex.Unlock()

	frame := NewFrame(
		frameType,
		c.getSessionIDHash(),
		seq,
		uint64(time.Now().UnixMicro()), //nolint:gosec // Safe conversion from int64 to uint64
		data,
	)

	frameData, err := frame.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	sendURL := fmt.Sprintf("%s/send/source?source_id=%s", c.hubURL, c.sourceID)

	req, err := http.NewRequestWithContext(c.ctx, "POST", sendURL, bytes.NewReader(frameData))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Source-ID", c.sourceID)
	req.Header.Set("X-Session-ID", c.sessionID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("⚠️ Failed to close send response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send frame failed with status: %d", resp.StatusCode)
	}

	// Chunk frames arrive at frame-period cadence; logging them would flood
	if frame.Type != FrameTypeChunk {
		log.Printf("📤 Sent frame type %d (%d bytes)", frame.Type, len(frameData))
	}
	return nil
}

// StartStreaming begins reading the hub's frames with frameHandler
func (c *HTTPStreamingClient) StartStreaming(frameHandler func(*Frame) error) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to hub")
	}

	go c.handleIncomingFrames(frameHandler)

	log.Println("🎙️ HTTP streaming started")
	return nil
}

// handleIncomingFrames processes frames received from the hub
func (c *HTTPStreamingClient) handleIncomingFrames(frameHandler func(*Frame) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Incoming frame handler panic: %v", r)
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			// Header first, then the payload it announces
			headerData := make([]byte, HeaderSize)
			if _, err := io.ReadFull(c.reader, headerData); err != nil {
				if err == io.EOF {
					log.Println("🎙️ Stream ended")
					return
				}
				log.Printf("❌ Failed to read frame header: %v", err)
				return
			}

			header, err := parseFrameHeader(headerData)
			if err != nil {
				log.Printf("❌ Invalid frame header: %v", err)
				continue
			}

			var frameData []byte
			if header.Length > 0 {
				frameData = make([]byte, header.Length)
				if _, err := io.ReadFull(c.reader, frameData); err != nil {
					log.Printf("❌ Failed to read frame data: %v", err)
					continue
				}
			}

			fullFrameData := append(headerData, frameData...)
			frame, err := DeserializeFrame(fullFrameData)
			if err != nil {
				log.Printf("❌ Failed to deserialize frame: %v", err)
				continue
			}

			if frameHandler != nil {
				if err := frameHandler(frame); err != nil {
					log.Printf("❌ Frame handler error: %v", err)
				}
			}
		}
	}
}

// SendChunk sends one capture chunk of raw PCM as a frame
func (c *HTTPStreamingClient) SendChunk(pcm []byte) error {
	return c.SendFrame(FrameTypeChunk, pcm)
}

// SendStreamEnd tells the hub the capture stream completed an ordered stop
func (c *HTTPStreamingClient) SendStreamEnd() error {
	return c.SendFrame(FrameTypeStreamEnd, nil)
}

// SendHeartbeat sends a heartbeat frame to keep the connection alive
func (c *HTTPStreamingClient) SendHeartbeat() error {
	return c.SendFrame(FrameTypeHeartbeat, nil)
}

// Disconnect closes the connection to the hub
func (c *HTTPStreamingClient) Disconnect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isConnected {
		return
	}

	log.Println("🔗 Disconnecting from hub...")

	c.cancel()

	if c.response != nil {
		if err := c.response.Body.Close(); err != nil {
			log.Printf("⚠️ Failed to close response body: %v", err)
		}
	}

	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}

	c.isConnected = false
	log.Println("👋 Disconnected from hub")
}

// IsConnected returns whether the client is currently connected
func (c *HTTPStreamingClient) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.isConnected
}

// GetSessionID returns the current session ID
func (c *HTTPStreamingClient) GetSessionID() string {
	return c.sessionID
}

// getSessionIDHash returns a hash of the session ID for frame headers
func (c *HTTPStreamingClient) getSessionIDHash() uint32 {
	hash := uint32(0)
	for _, b := range []byte(c.sessionID) {
		hash = hash*31 + uint32(b)
	}
	return hash
}

// generateSessionID creates a unique session identifier
func generateSessionID() string {
	now := time.Now()
	random := rand.Int63n(1000000) //nolint:gosec // G404: Non-cryptographic random OK for session ID
	return fmt.Sprintf("src-%d-%d-%d", now.Unix(), now.Nanosecond(), random)
}
