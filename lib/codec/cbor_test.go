// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Zeta  string            `cbor:"zeta"`
	Alpha int               `cbor:"alpha"`
	Tags  map[string]string `cbor:"tags,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	value := sample{
		Zeta:  "z",
		Alpha: 7,
		Tags:  map[string]string{"b": "2", "a": "1", "c": "3"},
	}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding changed between calls:\n%x\n%x", first, again)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"alpha": 3, "zeta": "x", "added_later": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sample
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Alpha != 3 || decoded.Zeta != "x" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := range 3 {
		if err := encoder.Encode(sample{Alpha: i}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	decoder := NewDecoder(&buffer)
	for i := range 3 {
		var decoded sample
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode #%d: %v", i, err)
		}
		if decoded.Alpha != i {
			t.Errorf("Decode #%d: Alpha = %d", i, decoded.Alpha)
		}
	}
}
