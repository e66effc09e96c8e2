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

package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hamitzor/sonance/internal/natsio"
	"github.com/hamitzor/sonance/internal/transport"
	"github.com/hamitzor/sonance/pkg/engine"
	"github.com/hamitzor/sonance/pkg/stream"
)

func main() {
	// Command line flags
	list := flag.Bool("list", false, "List audio devices and exit")
	record := flag.String("record", "", "Capture raw PCM to file ('-' for stdout)")
	play := flag.String("play", "", "Play raw PCM from file ('-' for stdin)")
	device := flag.Int("device", -1, "Device ID (-1 = system default)")
	rate := flag.Int("rate", 48000, "Sample rate in Hz")
	frames := flag.Int("frames", 512, "Frames per chunk")
	channels := flag.Int("channels", 1, "Channel count")
	format := flag.String("format", "s16le", "Sample format: s8, s16le, s32le, f32le, f64le")
	duration := flag.Duration("duration", 0, "Stop capture after this long (0 = until Ctrl+C)")
	hubAddr := flag.String("hub", "", "Stream capture chunks to a hub at this URL")
	natsURL := flag.String("nats", "", "Move chunks over NATS at this URL")
	id := flag.String("id", "sonance-001", "Source/sink identifier for hub and NATS modes")
	warnings := flag.Bool("warnings", false, "Surface driver debug warnings")
	flag.Parse()

	if *list {
		if err := listDevices(); err != nil {
			log.Fatalf("❌ Failed to list devices: %v", err)
		}
		return
	}

	fmtVal, err := parseFormat(*format)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	params := stream.Params{
		DeviceID:     *device,
		Channels:     *channels,
		Format:       fmtVal,
		SampleRate:   *rate,
		FrameSize:    *frames,
		ShowWarnings: *warnings,
	}

	switch {
	case *record != "":
		err = runCapture(*record, params, *duration, *hubAddr, *natsURL, *id)
	case *play != "":
		err = runPlayback(*play, params, *natsURL, *id)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// parseFormat maps a format name to the engine constant
func parseFormat(name string) (engine.Format, error) {
	for _, f := range []engine.Format{
		engine.FormatInt8,
		engine.FormatInt16,
		engine.FormatInt32,
		engine.FormatFloat32,
		engine.FormatFloat64,
	} {
		if f.String() == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown sample format %q", name)
}

// listDevices prints every host API and device of the machine
func listDevices() error {
	probe := engine.NewPortAudioProbe()

	apis, err := probe.APIs()
	if err != nil {
		return fmt.Errorf("failed to enumerate host APIs: %w", err)
	}
	fmt.Println("Host APIs:")
	for _, api := range apis {
		fmt.Printf("  [%d] %s\n", api.ID, api.Name)
	}

	list, err := probe.Devices()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	fmt.Println("Devices:")
	for _, dev := range list.Devices {
		marker := " "
		if dev.ID == list.DefaultInput || dev.ID == list.DefaultOutput {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, dev)
	}
	return nil
}

// resolveDevice fills in the system default when the user did not pick one
func resolveDevice(params *stream.Params, input bool) error {
	if params.DeviceID >= 0 {
		return nil
	}

	probe := engine.NewPortAudioProbe()
	list, err := probe.Devices()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}

	id := list.DefaultOutput
	if input {
		id = list.DefaultInput
	}
	if id < 0 {
		return fmt.Errorf("no default device available")
	}
	params.DeviceID = id
	return nil
}

// runCapture records from the device to a file, a hub or NATS
func runCapture(dest string, params stream.Params, duration time.Duration, hubAddr, natsURL, id string) error {
	if err := resolveDevice(&params, true); err != nil {
		return err
	}

	log.Printf("🚀 Starting capture (device %d, %s, %d Hz, %d channels)",
		params.DeviceID, params.Format, params.SampleRate, params.Channels)

	eng := engine.NewPortAudioEngine()
	capture, err := stream.NewCapture(eng, params)
	if err != nil {
		return fmt.Errorf("failed to open capture stream: %w", err)
	}
	defer func() {
		if err := capture.Close(); err != nil {
			log.Printf("⚠️ Failed to close capture stream: %v", err)
		}
	}()

	capture.OnError(func(err error) {
		log.Printf("❌ Capture error: %v", err)
	})
	capture.OnOverflow(func() {
		log.Printf("⚠️  Input overflow")
	})

	// Ordered stop on Ctrl+C or after -duration: buffered chunks still
	// drain before the stream ends
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if duration > 0 {
			select {
			case <-stopCh:
			case <-time.After(duration):
				log.Printf("⏱️  Duration reached")
			}
		} else {
			<-stopCh
		}
		log.Println("🛑 Stopping capture...")
		capture.Stop()
	}()

	switch {
	case hubAddr != "":
		info := transport.StreamInfo{
			Format:     params.Format.String(),
			SampleRate: params.SampleRate,
			Channels:   params.Channels,
		}
		client := transport.NewChunkClient(hubAddr, id, info)
		if err := client.Connect(); err != nil {
			return err
		}
		defer client.Disconnect()
		return client.StreamChunks(capture)

	case natsURL != "":
		info := natsio.StreamInfo{
			Format:     params.Format.String(),
			SampleRate: params.SampleRate,
			Channels:   params.Channels,
		}
		pub, err := natsio.NewPublisher(natsURL, id, info)
		if err != nil {
			return err
		}
		defer pub.Close()
		return pub.PublishStream(capture)

	default:
		out := os.Stdout
		if dest != "-" {
			f, err := os.Create(dest)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Printf("⚠️ Failed to close output file: %v", err)
				}
			}()
			out = f
		}

		n, err := io.Copy(out, capture.Reader())
		if err != nil {
			return fmt.Errorf("capture failed: %w", err)
		}
		log.Printf("👋 Captured %d bytes", n)
		return nil
	}
}

// runPlayback plays raw PCM from a file or from NATS
func runPlayback(src string, params stream.Params, natsURL, id string) error {
	if err := resolveDevice(&params, false); err != nil {
		return err
	}

	log.Printf("🚀 Starting playback (device %d, %s, %d Hz, %d channels)",
		params.DeviceID, params.Format, params.SampleRate, params.Channels)

	eng := engine.NewPortAudioEngine()
	playback, err := stream.NewPlayback(eng, params)
	if err != nil {
		return fmt.Errorf("failed to open playback stream: %w", err)
	}

	playback.OnError(func(err error) {
		log.Printf("❌ Playback error: %v", err)
	})
	playback.OnUnderflow(func() {
		log.Printf("⚠️  Output underflow")
	})

	if natsURL != "" {
		// Register before Start so an end envelope arriving right away
		// still wakes the select below.
		done := make(chan struct{})
		playback.OnFinish(func() { close(done) })

		sub, err := natsio.NewSubscriber(natsURL, id, playback)
		if err != nil {
			playback.Finish()
			return err
		}
		defer sub.Close()
		if err := sub.Start(); err != nil {
			playback.Finish()
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		log.Printf("🎧 Waiting for chunks on %s (Ctrl+C to stop)", natsio.Subject(id))
		select {
		case <-sigCh:
			log.Println("🛑 Stopping playback...")
			playback.Finish()
			<-done
		case <-done:
		}
		log.Println("👋 Playback finished")
		return nil
	}

	in := os.Stdin
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			playback.Finish()
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Printf("⚠️ Failed to close input file: %v", err)
			}
		}()
		in = f
	}

	w := playback.Writer()
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	// Close drains buffered audio before tearing the stream down
	if err := w.Close(); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	log.Println("👋 Playback finished")
	return nil
}
