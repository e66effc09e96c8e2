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

import "math"

// PCM sample <-> little-endian byte conversions used on the realtime path.
// All functions assume dst is sized for src; none of them allocate.

type paSample interface {
	int8 | int16 | int32 | float32
}

// encodeSamples writes src into dst as little-endian PCM bytes.
func encodeSamples[S paSample](dst []byte, src []S) {
	switch s := any(src).(type) {
	case []int8:
		for i, v := range s {
			dst[i] = byte(v)
		}
	case []int16:
		for i, v := range s {
			dst[i*2] = byte(v)
			dst[i*2+1] = byte(v >> 8)
		}
	case []int32:
		for i, v := range s {
			putUint32(dst[i*4:], uint32(v))
		}
	case []float32:
		for i, v := range s {
			putUint32(dst[i*4:], math.Float32bits(v))
		}
	}
}

// decodeSamples reads little-endian PCM bytes from src into dst.
func decodeSamples[S paSample](src []byte, dst []S) {
	switch d := any(dst).(type) {
	case []int8:
		for i := range d {
			d[i] = int8(src[i])
		}
	case []int16:
		for i := range d {
			d[i] = int16(src[i*2]) | int16(src[i*2+1])<<8
		}
	case []int32:
		for i := range d {
			d[i] = int32(getUint32(src[i*4:]))
		}
	case []float32:
		for i := range d {
			d[i] = math.Float32frombits(getUint32(src[i*4:]))
		}
	}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
