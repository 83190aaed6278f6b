// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package boardsync

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/easel-collab/easel/canvas"
)

// Kind discriminates an Action.
type Kind string

const (
	KindStrokeDraw        Kind = "stroke-draw"
	KindHighlightDraw     Kind = "highlight-draw"
	KindErase             Kind = "erase"
	KindTextCreate        Kind = "text-create"
	KindTextMove          Kind = "text-move"
	KindTextContentChange Kind = "text-change"
	KindUndo              Kind = "undo"
	KindRedo              Kind = "redo"
)

// ParseKind accepts a Kind by name.
func ParseKind(name string) (Kind, error) {
	switch kind := Kind(name); kind {
	case KindStrokeDraw, KindHighlightDraw, KindErase, KindTextCreate,
		KindTextMove, KindTextContentChange, KindUndo, KindRedo:
		return kind, nil
	}
	return "", fmt.Errorf("unknown action kind %q", name)
}

// ActionRef identifies one action of one author.
type ActionRef struct {
	Author   string `cbor:"author" json:"author"`
	Sequence uint64 `cbor:"seq" json:"seq"`
}

func (r ActionRef) String() string {
	return r.Author + "/" + strconv.FormatUint(r.Sequence, 10)
}

// Stroke is the payload of stroke and highlight actions.
type Stroke struct {
	Points []canvas.Point `cbor:"points" json:"points"`
	Color  string         `cbor:"color,omitempty" json:"color,omitempty"`
	Width  float64        `cbor:"width,omitempty" json:"width,omitempty"`
}

// Erase removes every primitive that touches Area.
type Erase struct {
	Area canvas.Rect `cbor:"area" json:"area"`
}

// EraseAround returns the square eraser of the given radius centred on
// p.
func EraseAround(p canvas.Point, radius float64) Erase {
	return Erase{Area: canvas.Rect{
		Min: canvas.Point{X: p.X - radius, Y: p.Y - radius},
		Max: canvas.Point{X: p.X + radius, Y: p.Y + radius},
	}}
}

// Text is the payload of the text actions. Create uses every field;
// move uses TextID and Position; a content change uses TextID and
// Content.
type Text struct {
	TextID   string       `cbor:"id,omitempty" json:"id,omitempty"`
	Content  string       `cbor:"content,omitempty" json:"content,omitempty"`
	Position canvas.Point `cbor:"pos" json:"pos"`
	Color    string       `cbor:"color,omitempty" json:"color,omitempty"`
}

// Action is one edit to the shared canvas. Exactly one payload field is
// set, matching Kind; Undo and Redo carry only Target.
type Action struct {
	Kind      Kind      `cbor:"kind" json:"kind"`
	Author    string    `cbor:"author" json:"author"`
	Sequence  uint64    `cbor:"seq" json:"seq"`
	Timestamp time.Time `cbor:"ts" json:"ts"`

	// Incarnation tells apart two runs of the same author id. Sequence
	// numbers restart with every incarnation.
	Incarnation uint64 `cbor:"inc,omitempty" json:"inc,omitempty"`

	Stroke *Stroke    `cbor:"stroke,omitempty" json:"stroke,omitempty"`
	Erase  *Erase     `cbor:"erase,omitempty" json:"erase,omitempty"`
	Text   *Text      `cbor:"text,omitempty" json:"text,omitempty"`
	Target *ActionRef `cbor:"target,omitempty" json:"target,omitempty"`
}

// Ref returns the action's identity.
func (a Action) Ref() ActionRef { return ActionRef{Author: a.Author, Sequence: a.Sequence} }

// PrimitiveID names the primitive a draw or create action adds.
func (a Action) PrimitiveID() string {
	if a.Kind == KindTextCreate && a.Text != nil && a.Text.TextID != "" {
		return a.Text.TextID
	}
	return a.generatedID()
}

// generatedID is author/seq, with the incarnation folded into the
// author part when there is one: alice@k3x9/1.
func (a Action) generatedID() string {
	if a.Incarnation == 0 {
		return a.Ref().String()
	}
	return a.Author + "@" + strconv.FormatUint(a.Incarnation, 36) + "/" + strconv.FormatUint(a.Sequence, 10)
}

// Validate checks an action's shape. It does not consult history.
func (a Action) Validate() error {
	if a.Author == "" {
		return errors.New("action without author")
	}
	if a.Sequence == 0 {
		return errors.New("action without sequence")
	}
	switch a.Kind {
	case KindStrokeDraw, KindHighlightDraw:
		if a.Stroke == nil || len(a.Stroke.Points) == 0 {
			return fmt.Errorf("%s without points", a.Kind)
		}
		for _, p := range a.Stroke.Points {
			if !finite(p) {
				return fmt.Errorf("%s with non-finite point", a.Kind)
			}
		}
		if a.Stroke.Width < 0 || math.IsNaN(a.Stroke.Width) {
			return fmt.Errorf("%s with invalid width", a.Kind)
		}
	case KindErase:
		if a.Erase == nil || !finite(a.Erase.Area.Min) || !finite(a.Erase.Area.Max) {
			return errors.New("erase without a finite area")
		}
	case KindTextCreate, KindTextMove, KindTextContentChange:
		if a.Text == nil {
			return fmt.Errorf("%s without text", a.Kind)
		}
		if a.Kind != KindTextCreate && a.Text.TextID == "" {
			return fmt.Errorf("%s without text id", a.Kind)
		}
		if !finite(a.Text.Position) {
			return fmt.Errorf("%s with non-finite position", a.Kind)
		}
	case KindUndo, KindRedo:
		if a.Target == nil || a.Target.Sequence == 0 {
			return fmt.Errorf("%s without target", a.Kind)
		}
		if a.Target.Author != a.Author {
			return fmt.Errorf("%s by %s targets %s's action", a.Kind, a.Author, a.Target.Author)
		}
		if a.Target.Sequence >= a.Sequence {
			return fmt.Errorf("%s targets a later action %s", a.Kind, a.Target)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

func finite(p canvas.Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// ReplayError is a remote action that could not be decoded or applied.
// The action is skipped; processing continues with the next one.
type ReplayError struct {
	Peer   string
	Action ActionRef
	Kind   Kind
	Err    error
}

func (e *ReplayError) Error() string {
	if e.Action.Author == "" {
		return fmt.Sprintf("replaying frame from %s: %v", e.Peer, e.Err)
	}
	return fmt.Sprintf("replaying %s %s from %s: %v", e.Kind, e.Action, e.Peer, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }
