// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package boardsync

import (
	"fmt"

	"github.com/easel-collab/easel/lib/codec"
	"github.com/easel-collab/easel/lib/compress"
)

// EncodeFrame serializes an action for the wire: CBOR, then a
// compression frame whose first byte names the algorithm. Payloads
// under threshold bytes are sent uncompressed.
func EncodeFrame(a Action, tag compress.Tag, threshold int) ([]byte, error) {
	data, err := codec.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding %s %s: %w", a.Kind, a.Ref(), err)
	}
	frame, err := compress.Encode(data, tag, threshold)
	if err != nil {
		return nil, fmt.Errorf("compressing %s %s: %w", a.Kind, a.Ref(), err)
	}
	return frame, nil
}

// DecodeFrame reverses EncodeFrame and validates the result.
func DecodeFrame(frame []byte) (Action, error) {
	data, err := compress.Decode(frame)
	if err != nil {
		return Action{}, fmt.Errorf("decompressing frame: %w", err)
	}
	var a Action
	if err := codec.Unmarshal(data, &a); err != nil {
		return Action{}, fmt.Errorf("decoding action: %w", err)
	}
	if err := a.Validate(); err != nil {
		return a, err
	}
	return a, nil
}
