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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	streamSourcePath = "/stream/source"
	sendSourcePath   = "/send/source"
)

// mockHub is a test double for the hub's HTTP surface. It records every
// frame posted to the send endpoint and can push frames down the long-lived
// stream connection.
type mockHub struct {
	t *testing.T

	mu       sync.Mutex
	received []*Frame

	downFrames [][]byte
	failSend   bool
	failStream bool

	server *httptest.Server
}

func newMockHub(t *testing.T) *mockHub {
	h := &mockHub{t: t}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case streamSourcePath:
			h.handleStream(w, r)
		case sendSourcePath:
			h.handleSend(w, r)
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *mockHub) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source_id") == "" {
		h.t.Error("Expected source_id query parameter")
	}
	if r.Header.Get("Content-Type") != "application/octet-stream" {
		h.t.Errorf("Unexpected Content-Type: %s", r.Header.Get("Content-Type"))
	}

	if h.failStream {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.t.Error("ResponseWriter doesn't support flushing")
		return
	}
	flusher.Flush()

	for _, frameData := range h.downFrames {
		if _, err := w.Write(frameData); err != nil {
			h.t.Errorf("Failed to write down frame: %v", err)
			return
		}
		flusher.Flush()
	}

	// Hold the connection open briefly so the client can read
	time.Sleep(100 * time.Millisecond)
}

func (h *mockHub) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source_id") == "" {
		h.t.Error("Expected source_id query parameter")
	}

	if h.failSend {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.t.Errorf("Failed to read frame data: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	frame, err := DeserializeFrame(data)
	if err != nil {
		h.t.Errorf("Received malformed frame: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.received = append(h.received, frame)
	h.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (h *mockHub) frames() []*Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Frame, len(h.received))
	copy(out, h.received)
	return out
}

func TestNewHTTPStreamingClient(t *testing.T) {
	client := NewHTTPStreamingClient("http://localhost:3000", "source-1")

	if client.hubURL != "http://localhost:3000" {
		t.Errorf("Unexpected hub URL: %s", client.hubURL)
	}
	if client.sourceID != "source-1" {
		t.Errorf("Unexpected source ID: %s", client.sourceID)
	}
	if client.sessionID == "" {
		t.Error("Expected non-empty session ID")
	}
	if client.IsConnected() {
		t.Error("New client should not be connected")
	}
}

func TestHTTPStreamingClient_Connect_Success(t *testing.T) {
	hub := newMockHub(t)

	client := NewHTTPStreamingClient(hub.server.URL, "source-1")
	defer client.Disconnect()

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("Client should be connected")
	}

	if err := client.Connect(); err == nil {
		t.Error("Second Connect should fail")
	}
}

func TestHTTPStreamingClient_Connect_ServerError(t *testing.T) {
	hub := newMockHub(t)
	hub.failStream = true

	client := NewHTTPStreamingClient(hub.server.URL, "source-1")
	if err := client.Connect(); err == nil {
		t.Fatal("Expected Connect to fail on server error")
	}
	if client.IsConnected() {
		t.Error("Client should not be connected after failure")
	}
}

func TestHTTPStreamingClient_SendHandshake(t *testing.T) {
	hub := newMockHub(t)

	client := NewHTTPStreamingClient(hub.server.URL, "source-1")
	defer client.Disconnect()
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.SendHandshake("s16le", 48000, 2); err != nil {
		t.Fatalf("SendHandshake failed: %v", err)
	}

	frames := hub.frames()
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if frames[0].Type != FrameTypeHandshake {
		t.Errorf("Expected handshake frame, got type %d", frames[0].Type)
	}

	payload := string(frames[0].Data)
	for _, want := range []string{"source:source-1", "format:s16le", "rate:48000", "channels:2"} {
		if !strings.Contains(payload, want) {
			t.Errorf("Handshake payload missing %q: %s", want, payload)
		}
	}
}

func TestHTTPStreamingClient_SendFrame_NotConnected(t *testing.T) {
	client := NewHTTPStreamingClient("http://localhost:3000", "source-1")
	if err := client.SendFrame(FrameTypeChunk, []byte("pcm")); err == nil {
		t.Error("Expected SendFrame to fail when not connected")
	}
	if err := client.SendHandshake("s16le", 48000, 1); err == nil {
		t.Error("Expected SendHandshake to fail when not connected")
	}
	if err := client.StartStreaming(nil); err == nil {
		t.Error("Expected StartStreaming to fail when not connected")
	}
}

func TestHTTPStreamingClient_SendChunkAndStreamEnd(t *testing.T) {
	hub := newMockHub(t)

	client := NewHTTPStreamingClient(hub.server.URL, "source-1")
	defer client.Disconnect()
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := client.SendChunk(pcm); err != nil {
		t.Fatalf("SendChunk failed: %v", err)
	}
	if err := client.SendStreamEnd(); err != nil {
		t.Fatalf("SendStreamEnd failed: %v", err)
	}

	frames := hub.frames()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].Type != FrameTypeChunk {
		t.Errorf("Expected chunk frame, got type %d", frames[0].Type)
	}
	if string(frames[0].Data) != string(pcm) {
		t.Error("Chunk payload mismatch")
	}
	if frames[1].Type != FrameTypeStreamEnd {
		t.Errorf("Expected stream end frame, got type %d", frames[1].Type)
	}
	if frames[1].Sequence <= frames[0].Sequence {
		t.Error("Sequence numbers should be strictly increasing")
	}
}

func TestHTTPStreamingClient_SendFrame_ServerError(t *testing.T) {
	hub := newMockHub(t)

	client := NewHTTPStreamingClient(hub.server.URL, "source-1")
	defer client.Disconnect()
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	hub.failSend = true
	if err := client.SendChunk([]byte("pcm")); err == nil {
		t.Error("Expected SendChunk to fail on server error")
	}
}

func TestHTTPStreamingClient_StartStreaming(t *testing.T) {
	hub := newMockHub(t)

	statusFrame := NewFrame(FrameTypeStatus, 1, 1, uint64(time.Now().UnixMicro()), []byte("ok")) //nolint:gosec // G115
	statusData, err := statusFrame.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	hub.downFrames = [][]byte{statusData}

	client := NewHTTPStreamingClient(hub.server.URL, "source-1")
	defer client.Disconnect()
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	gotFrames := make(chan *Frame, 1)
	err = client.StartStreaming(func(frame *Frame) error {
		gotFrames <- frame
		return nil
	})
	if err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}

	select {
	case frame := <-gotFrames:
		if frame.Type != FrameTypeStatus {
			t.Errorf("Expected status frame, got type %d", frame.Type)
		}
		if string(frame.Data) != "ok" {
			t.Errorf("Unexpected payload: %s", frame.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for down frame")
	}
}

func TestHTTPStreamingClient_Disconnect(t *testing.T) {
	hub := newMockHub(t)

	client := NewHTTPStreamingClient(hub.server.URL, "source-1")
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.Disconnect()
	if client.IsConnected() {
		t.Error("Client should not be connected after Disconnect")
	}

	// Double disconnect is a no-op
	client.Disconnect()
}

func TestHTTPStreamingClient_ConnectTimeout(t *testing.T) {
	// Server that accepts but does not respond within the client timeout
	listener := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer listener.Close()

	client := NewHTTPStreamingClient(listener.URL, "source-1")
	client.SetConnectTimeout(50 * time.Millisecond)

	start := time.Now()
	err := client.Connect()
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Connect took too long to time out")
	}
}

func TestGenerateSessionID(t *testing.T) {
	a := generateSessionID()
	b := generateSessionID()

	if a == b {
		t.Error("Session IDs should be unique")
	}
	if !strings.HasPrefix(a, "src-") {
		t.Errorf("Unexpected session ID format: %s", a)
	}
}

func TestSessionIDHash(t *testing.T) {
	client := NewHTTPStreamingClient("http://localhost:3000", "source-1")

	h1 := client.getSessionIDHash()
	h2 := client.getSessionIDHash()
	if h1 != h2 {
		t.Error("Hash of the same session ID should be stable")
	}

	other := NewHTTPStreamingClient("http://localhost:3000", "source-2")
	if client.sessionID != other.sessionID && h1 == other.getSessionIDHash() {
		t.Log("Hash collision between distinct session IDs (unlikely but legal)")
	}
}
