// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	compressible := []byte(strings.Repeat("stroke 12,40 13,41 14,42 ", 200))
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		data      []byte
		tag       Tag
		threshold int
		wantTag   Tag
	}{
		{"zstd compressible", compressible, TagZstd, 256, TagZstd},
		{"lz4 compressible", compressible, TagLZ4, 256, TagLZ4},
		{"below threshold", []byte("tiny"), TagZstd, 256, TagNone},
		{"incompressible falls back", random, TagZstd, 256, TagNone},
		{"none requested", compressible, TagNone, 0, TagNone},
		{"empty payload", nil, TagNone, 0, TagNone},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			frame, err := Encode(test.data, test.tag, test.threshold)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if got := Tag(frame[0]); got != test.wantTag {
				t.Errorf("frame tag = %s, want %s", got, test.wantTag)
			}
			decoded, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(decoded, test.data) {
				t.Errorf("round trip changed %d bytes into %d bytes", len(test.data), len(decoded))
			}
		})
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{9, 1, 'x'}},
		{"length mismatch", []byte{byte(TagNone), 5, 'a', 'b'}},
		{"oversized claim", append([]byte{byte(TagZstd)}, 0xff, 0xff, 0xff, 0xff, 0x0f)},
		{"corrupt zstd", []byte{byte(TagZstd), 4, 1, 2, 3, 4}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Decode(test.frame); err == nil {
				t.Fatal("Decode succeeded on a bad frame")
			}
		})
	}
}

func TestParseTag(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		tag, err := ParseTag(name)
		if err != nil {
			t.Fatalf("ParseTag(%q): %v", name, err)
		}
		if tag.String() != name {
			t.Errorf("ParseTag(%q).String() = %q", name, tag.String())
		}
	}
	if _, err := ParseTag("brotli"); err == nil {
		t.Error("ParseTag accepted an unknown algorithm")
	}
}
