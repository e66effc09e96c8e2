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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeInt16LittleEndian(t *testing.T) {
	dst := make([]byte, 6)
	encodeSamples(dst, []int16{0x0102, -1, 256})
	assert.Equal(t, []byte{0x02, 0x01, 0xff, 0xff, 0x00, 0x01}, dst)
}

func TestSampleRoundTrips(t *testing.T) {
	t.Run("int8", func(t *testing.T) {
		src := []int8{math.MinInt8, -1, 0, 1, math.MaxInt8}
		buf := make([]byte, len(src))
		encodeSamples(buf, src)
		got := make([]int8, len(src))
		decodeSamples(buf, got)
		assert.Equal(t, src, got)
	})

	t.Run("int16", func(t *testing.T) {
		src := []int16{math.MinInt16, -1, 0, 1, math.MaxInt16}
		buf := make([]byte, len(src)*2)
		encodeSamples(buf, src)
		got := make([]int16, len(src))
		decodeSamples(buf, got)
		assert.Equal(t, src, got)
	})

	t.Run("int32", func(t *testing.T) {
		src := []int32{math.MinInt32, -1, 0, 1, math.MaxInt32}
		buf := make([]byte, len(src)*4)
		encodeSamples(buf, src)
		got := make([]int32, len(src))
		decodeSamples(buf, got)
		assert.Equal(t, src, got)
	})

	t.Run("float32", func(t *testing.T) {
		src := []float32{-1, -0.5, 0, 0.5, 1, float32(math.Pi)}
		buf := make([]byte, len(src)*4)
		encodeSamples(buf, src)
		got := make([]float32, len(src))
		decodeSamples(buf, got)
		assert.Equal(t, src, got)
	})
}
