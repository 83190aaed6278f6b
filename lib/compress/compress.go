// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress wraps payloads in a self-describing frame:
//
//	tag (1 byte) | uncompressed length (uvarint) | payload
//
// The tag names the algorithm. Payloads below the caller's threshold,
// and payloads that do not shrink, are stored with TagNone.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm of a frame. Values are
// wire constants.
type Tag uint8

const (
	TagNone Tag = 0
	TagLZ4  Tag = 1
	TagZstd Tag = 2
)

// MaxFrameSize bounds the decompressed size a frame may claim.
const MaxFrameSize = 8 << 20

func (tag Tag) String() string {
	switch tag {
	case TagNone:
		return "none"
	case TagLZ4:
		return "lz4"
	case TagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseTag parses the configuration spelling of a tag.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "", "none":
		return TagNone, nil
	case "lz4":
		return TagLZ4, nil
	case "zstd":
		return TagZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

var errIncompressible = errors.New("incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode frames data with tag. Payloads shorter than threshold, or
// that the algorithm cannot shrink, fall back to TagNone.
func Encode(data []byte, tag Tag, threshold int) ([]byte, error) {
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds frame limit %d", len(data), MaxFrameSize)
	}
	payload := data
	if tag != TagNone && len(data) >= threshold {
		compressed, err := compressWith(tag, data)
		switch {
		case errors.Is(err, errIncompressible):
			tag = TagNone
		case err != nil:
			return nil, err
		default:
			payload = compressed
		}
	} else {
		tag = TagNone
	}

	frame := make([]byte, 0, 1+binary.MaxVarintLen64+len(payload))
	frame = append(frame, byte(tag))
	frame = binary.AppendUvarint(frame, uint64(len(data)))
	return append(frame, payload...), nil
}

// Decode reverses Encode. The returned slice may alias frame when the
// frame is uncompressed.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("frame too short (%d bytes)", len(frame))
	}
	tag := Tag(frame[0])
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 {
		return nil, errors.New("frame has a malformed length prefix")
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame claims %d bytes, limit is %d", size, MaxFrameSize)
	}
	payload := frame[1+n:]

	switch tag {
	case TagNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("uncompressed frame: %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case TagLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case TagZstd:
		result, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(result)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %s", tag)
	}
}

func compressWith(tag Tag, data []byte) ([]byte, error) {
	switch tag {
	case TagLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case TagZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %s", tag)
	}
}
