// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/easel-collab/easel/boardsync"
	"github.com/easel-collab/easel/canvas"
	"github.com/easel-collab/easel/discovery"
	"github.com/easel-collab/easel/relay"
)

const sketch = `[
	// a line, then a label beside it
	{"op": "stroke", "points": [[0, 0], [40, 40]], "color": "#1e66f5", "width": 2},
	{"op": "highlight", "points": [[5, 5]]},
	{"op": "text", "id": "title", "content": "plan", "at": [10, 60]},
	{"op": "move", "id": "title", "at": [10, 80]},
	{"op": "edit", "id": "title", "content": "the plan"},
	/* rubbing out the middle */
	{"op": "erase", "at": [20, 20], "radius": 4},
	{"op": "erase", "rect": [0, 0, 1, 1]},
	{"op": "wait", "duration": "1ms"},
	{"op": "undo"},
	{"op": "redo"},
]`

func TestParseScript(t *testing.T) {
	steps, err := ParseScript([]byte(sketch))
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 10 {
		t.Fatalf("parsed %d steps, want 10", len(steps))
	}

	stroke, err := steps[0].Action()
	if err != nil {
		t.Fatal(err)
	}
	if stroke.Kind != boardsync.KindStrokeDraw || len(stroke.Stroke.Points) != 2 ||
		stroke.Stroke.Points[1] != (canvas.Point{X: 40, Y: 40}) || stroke.Stroke.Width != 2 {
		t.Errorf("stroke action = %+v", stroke)
	}
	if highlight, _ := steps[1].Action(); highlight.Kind != boardsync.KindHighlightDraw {
		t.Errorf("highlight kind = %s", highlight.Kind)
	}
	text, _ := steps[2].Action()
	if text.Kind != boardsync.KindTextCreate || text.Text.TextID != "title" || text.Text.Position != (canvas.Point{X: 10, Y: 60}) {
		t.Errorf("text action = %+v", text.Text)
	}
	if move, _ := steps[3].Action(); move.Kind != boardsync.KindTextMove || move.Text.Position.Y != 80 {
		t.Errorf("move action = %+v", move)
	}
	if edit, _ := steps[4].Action(); edit.Kind != boardsync.KindTextContentChange || edit.Text.Content != "the plan" {
		t.Errorf("edit action = %+v", edit)
	}
	erase, _ := steps[5].Action()
	if want := (canvas.Rect{Min: canvas.Point{X: 16, Y: 16}, Max: canvas.Point{X: 24, Y: 24}}); erase.Erase.Area != want {
		t.Errorf("erase area = %+v, want %+v", erase.Erase.Area, want)
	}
	if rect, _ := steps[6].Action(); rect.Erase.Area.Max != (canvas.Point{X: 1, Y: 1}) {
		t.Errorf("rect erase area = %+v", rect.Erase.Area)
	}
	if _, err := steps[8].Action(); err == nil {
		t.Error("undo converted to a drawing action")
	}
}

func TestParseScriptRejects(t *testing.T) {
	for name, script := range map[string]string{
		"not an array":   `{"op": "undo"}`,
		"unknown field":  `[{"op": "stroke", "points": [[0, 0]], "thickness": 3}]`,
		"unknown op":     `[{"op": "fill"}]`,
		"missing op":     `[{"points": [[0, 0]]}]`,
		"empty stroke":   `[{"op": "stroke"}]`,
		"erase twice":    `[{"op": "erase", "at": [0, 0], "radius": 1, "rect": [0, 0, 1, 1]}]`,
		"erase radius":   `[{"op": "erase", "at": [0, 0]}]`,
		"text anywhere":  `[{"op": "text", "content": "x"}]`,
		"move no id":     `[{"op": "move", "at": [0, 0]}]`,
		"edit no id":     `[{"op": "edit", "content": "x"}]`,
		"bad duration":   `[{"op": "wait", "duration": "soon"}]`,
		"truncated json": `[{"op": "undo"`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseScript([]byte(script)); err == nil {
				t.Errorf("ParseScript(%s) succeeded", script)
			}
		})
	}
}

func TestReadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sketch.jsonc")
	if err := os.WriteFile(path, []byte("[\n// only step\n{\"op\": \"undo\"},\n]"), 0o644); err != nil {
		t.Fatal(err)
	}
	steps, err := ReadScript(path)
	if err != nil || len(steps) != 1 {
		t.Fatalf("ReadScript = %v, %v", steps, err)
	}
	if _, err := ReadScript(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Error("missing script read")
	}
}

type recordingTarget struct {
	submitted []boardsync.Kind
	undone    int
	redone    int
	reject    boardsync.Kind
}

func (r *recordingTarget) LocalID() string { return "bob" }

func (r *recordingTarget) SubmitLocalAction(_ context.Context, a boardsync.Action) (boardsync.Action, error) {
	if a.Kind == r.reject {
		return boardsync.Action{}, errors.New("rejected")
	}
	r.submitted = append(r.submitted, a.Kind)
	a.Author, a.Sequence = "bob", uint64(len(r.submitted)+r.undone+r.redone)
	return a, nil
}

func (r *recordingTarget) Undo(_ context.Context, author string) (boardsync.Action, error) {
	if author != "bob" {
		return boardsync.Action{}, boardsync.ErrNotLocalAuthor
	}
	r.undone++
	return boardsync.Action{Kind: boardsync.KindUndo, Author: author}, nil
}

func (r *recordingTarget) Redo(_ context.Context, author string) (boardsync.Action, error) {
	r.redone++
	return boardsync.Action{Kind: boardsync.KindRedo, Author: author}, nil
}

func TestPlay(t *testing.T) {
	steps, err := ParseScript([]byte(sketch))
	if err != nil {
		t.Fatal(err)
	}
	target := &recordingTarget{reject: boardsync.KindTextMove}
	if err := Play(context.Background(), target, steps, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatal(err)
	}
	want := []boardsync.Kind{
		boardsync.KindStrokeDraw,
		boardsync.KindHighlightDraw,
		boardsync.KindTextCreate,
		boardsync.KindTextContentChange,
		boardsync.KindErase,
		boardsync.KindErase,
	}
	if len(target.submitted) != len(want) {
		t.Fatalf("submitted %v, want %v", target.submitted, want)
	}
	for i := range want {
		if target.submitted[i] != want[i] {
			t.Errorf("submitted[%d] = %s, want %s", i, target.submitted[i], want[i])
		}
	}
	if target.undone != 1 || target.redone != 1 {
		t.Errorf("undone %d, redone %d, want 1 each", target.undone, target.redone)
	}
}

func TestPlayStopsWithContext(t *testing.T) {
	steps, err := ParseScript([]byte(`[{"op": "wait", "duration": "1h"}, {"op": "undo"}]`))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	target := &recordingTarget{}
	if err := Play(ctx, target, steps, slog.New(slog.DiscardHandler)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Play = %v, want deadline exceeded", err)
	}
	if target.undone != 0 {
		t.Error("step after an interrupted wait ran")
	}
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	printRecords(&out, []discovery.PeerRecord{
		{ID: "alice", Address: "10.0.0.5", Port: 5006, Relay: discovery.RelayInfo{URL: "turn:relay.example:3478", Username: "1", Secret: "x"}},
		{ID: "carol", Address: "::1", Port: 5006},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output:\n%s", out.String())
	}
	if fields := strings.Fields(lines[1]); len(fields) != 3 || fields[1] != "10.0.0.5:5006" || fields[2] != "turn:relay.example:3478" {
		t.Errorf("alice row = %q", lines[1])
	}
	if fields := strings.Fields(lines[2]); len(fields) != 3 || fields[1] != "[::1]:5006" || fields[2] != "-" {
		t.Errorf("carol row = %q", lines[2])
	}
}

func TestPrintCredentials(t *testing.T) {
	credentials, err := relay.MintCredentials("s3cret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	printCredentials(&out, "turn:relay.example:3478", credentials)
	for _, want := range []string{"url:      turn:relay.example:3478", "username: " + credentials.Username, "password: " + credentials.Password} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
