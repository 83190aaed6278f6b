// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/easel-collab/easel/boardsync"
	"github.com/easel-collab/easel/canvas"
)

// Step is one entry of an action script. A script is a JSONC array of
// steps, for example:
//
//	[
//	  // a diagonal line
//	  {"op": "stroke", "points": [[0, 0], [40, 40]], "color": "#1e66f5", "width": 2},
//	  {"op": "text", "id": "title", "content": "plan", "at": [10, 60]},
//	  {"op": "move", "id": "title", "at": [10, 80]},
//	  {"op": "wait", "duration": "500ms"},
//	  {"op": "erase", "at": [20, 20], "radius": 4},
//	  {"op": "undo"},
//	]
type Step struct {
	Op       string       `json:"op"`
	Points   [][2]float64 `json:"points,omitempty"`
	Color    string       `json:"color,omitempty"`
	Width    float64      `json:"width,omitempty"`
	At       *[2]float64  `json:"at,omitempty"`
	Radius   float64      `json:"radius,omitempty"`
	Rect     *[4]float64  `json:"rect,omitempty"`
	ID       string       `json:"id,omitempty"`
	Content  string       `json:"content,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

// ParseScript strips JSONC comments and trailing commas from data and
// decodes the steps, rejecting unknown fields and malformed steps.
func ParseScript(data []byte) ([]Step, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	var steps []Step
	if err := decoder.Decode(&steps); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	for i, step := range steps {
		if err := step.check(); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}
	return steps, nil
}

// ReadScript reads and parses the script file at path.
func ReadScript(path string) ([]Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	steps, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return steps, nil
}

func (s Step) check() error {
	switch s.Op {
	case "stroke", "highlight":
		if len(s.Points) == 0 {
			return errors.New("points are required")
		}
	case "erase":
		if (s.At == nil) == (s.Rect == nil) {
			return errors.New("exactly one of at and rect is required")
		}
		if s.At != nil && s.Radius <= 0 {
			return errors.New("radius must be positive")
		}
	case "text":
		if s.At == nil {
			return errors.New("at is required")
		}
	case "move":
		if s.ID == "" || s.At == nil {
			return errors.New("id and at are required")
		}
	case "edit":
		if s.ID == "" {
			return errors.New("id is required")
		}
	case "undo", "redo":
	case "wait":
		if _, err := time.ParseDuration(s.Duration); err != nil {
			return fmt.Errorf("duration: %w", err)
		}
	case "":
		return errors.New("op is required")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

// Action converts a drawing step to the action it submits. The
// synchronizer stamps author and sequence.
func (s Step) Action() (boardsync.Action, error) {
	switch s.Op {
	case "stroke", "highlight":
		kind := boardsync.KindStrokeDraw
		if s.Op == "highlight" {
			kind = boardsync.KindHighlightDraw
		}
		points := make([]canvas.Point, len(s.Points))
		for i, p := range s.Points {
			points[i] = canvas.Point{X: p[0], Y: p[1]}
		}
		return boardsync.Action{Kind: kind, Stroke: &boardsync.Stroke{Points: points, Color: s.Color, Width: s.Width}}, nil
	case "erase":
		if s.At != nil {
			erase := boardsync.EraseAround(point(*s.At), s.Radius)
			return boardsync.Action{Kind: boardsync.KindErase, Erase: &erase}, nil
		}
		area := canvas.Rect{
			Min: canvas.Point{X: s.Rect[0], Y: s.Rect[1]},
			Max: canvas.Point{X: s.Rect[2], Y: s.Rect[3]},
		}
		return boardsync.Action{Kind: boardsync.KindErase, Erase: &boardsync.Erase{Area: area}}, nil
	case "text":
		return boardsync.Action{Kind: boardsync.KindTextCreate, Text: &boardsync.Text{
			TextID: s.ID, Content: s.Content, Position: point(*s.At), Color: s.Color,
		}}, nil
	case "move":
		return boardsync.Action{Kind: boardsync.KindTextMove, Text: &boardsync.Text{TextID: s.ID, Position: point(*s.At)}}, nil
	case "edit":
		return boardsync.Action{Kind: boardsync.KindTextContentChange, Text: &boardsync.Text{TextID: s.ID, Content: s.Content}}, nil
	}
	return boardsync.Action{}, fmt.Errorf("%s is not a drawing step", s.Op)
}

func point(p [2]float64) canvas.Point { return canvas.Point{X: p[0], Y: p[1]} }

// scriptTarget is the part of the synchronizer a script drives.
type scriptTarget interface {
	SubmitLocalAction(ctx context.Context, a boardsync.Action) (boardsync.Action, error)
	Undo(ctx context.Context, author string) (boardsync.Action, error)
	Redo(ctx context.Context, author string) (boardsync.Action, error)
	LocalID() string
}

// Play runs steps against b in order. A step the board rejects is
// logged and skipped; Play stops only when ctx ends.
func Play(ctx context.Context, b scriptTarget, steps []Step, logger *slog.Logger) error {
	for i, step := range steps {
		var (
			applied boardsync.Action
			err     error
		)
		switch step.Op {
		case "wait":
			duration, _ := time.ParseDuration(step.Duration)
			timer := time.NewTimer(duration)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			continue
		case "undo":
			applied, err = b.Undo(ctx, b.LocalID())
		case "redo":
			applied, err = b.Redo(ctx, b.LocalID())
		default:
			var action boardsync.Action
			if action, err = step.Action(); err == nil {
				applied, err = b.SubmitLocalAction(ctx, action)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Warn("script step rejected", "step", i+1, "op", step.Op, "error", err)
			continue
		}
		logger.Info("script step applied", "step", i+1, "action", applied.Ref().String(), "kind", applied.Kind)
	}
	return nil
}
