// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package boardsync

import (
	"errors"
	"fmt"
	"slices"

	"github.com/easel-collab/easel/canvas"
)

var (
	// ErrNothingToUndo is returned by Undo on an empty undo stack.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned by Redo on an empty redo stack.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// effect is what applying an action did to the canvas, recorded so
// that undo and redo reverse and repeat it exactly instead of
// recomputing against a canvas that has changed since.
type effect struct {
	added   []canvas.Primitive
	removed []canvas.Primitive
}

// entry is one undoable action and its effect.
type entry struct {
	action Action
	effect effect
}

// AuthorHistory holds one author's undo and redo stacks. The local
// author's history is authoritative; every remote author has a shadow
// history rebuilt from the actions they broadcast.
type AuthorHistory struct {
	Author string

	undo []*entry
	redo []*entry
}

func newAuthorHistory(author string) *AuthorHistory {
	return &AuthorHistory{Author: author}
}

// UndoRefs lists the undo stack, oldest first.
func (h *AuthorHistory) UndoRefs() []ActionRef { return refs(h.undo) }

// RedoRefs lists the redo stack, oldest first. The last element is
// what the next Redo repeats.
func (h *AuthorHistory) RedoRefs() []ActionRef { return refs(h.redo) }

func refs(entries []*entry) []ActionRef {
	out := make([]ActionRef, len(entries))
	for index, e := range entries {
		out[index] = e.action.Ref()
	}
	return out
}

// record pushes a new edit. A new edit invalidates everything that was
// undone before it.
func (h *AuthorHistory) record(e *entry) {
	h.undo = append(h.undo, e)
	clear(h.redo)
	h.redo = h.redo[:0]
}

func (h *AuthorHistory) peekUndo() (*entry, error) {
	if len(h.undo) == 0 {
		return nil, ErrNothingToUndo
	}
	return h.undo[len(h.undo)-1], nil
}

func (h *AuthorHistory) peekRedo() (*entry, error) {
	if len(h.redo) == 0 {
		return nil, ErrNothingToRedo
	}
	return h.redo[len(h.redo)-1], nil
}

// undone moves the top undo entry onto the redo stack.
func (h *AuthorHistory) undone() {
	top := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, top)
}

// redone moves the top redo entry back onto the undo stack.
func (h *AuthorHistory) redone() {
	top := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, top)
}

// scene indexes the primitives on the canvas so that erase and text
// edits can find what they act on. The canvas Model is write-only.
type scene struct {
	order []string
	byID  map[string]canvas.Primitive
}

func newScene() *scene {
	return &scene{byID: make(map[string]canvas.Primitive)}
}

func (s *scene) get(id string) (canvas.Primitive, bool) {
	p, ok := s.byID[id]
	return p, ok
}

func (s *scene) put(p canvas.Primitive) {
	if _, exists := s.byID[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.byID[p.ID] = p
}

func (s *scene) delete(id string) {
	if _, exists := s.byID[id]; !exists {
		return
	}
	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(existing string) bool { return existing == id })
}

// touching returns the primitives hit by area, in drawing order.
func (s *scene) touching(area canvas.Rect) []canvas.Primitive {
	area = area.Normalize()
	var hit []canvas.Primitive
	for _, id := range s.order {
		if p := s.byID[id]; p.Touches(area) {
			hit = append(hit, p)
		}
	}
	return hit
}

// board applies effects to the scene index and the canvas together.
type board struct {
	scene *scene
	model canvas.Model
}

func (b *board) add(p canvas.Primitive) {
	if _, exists := b.scene.get(p.ID); exists {
		b.model.RemovePrimitive(p)
	}
	b.scene.put(p)
	b.model.AddPrimitive(p)
}

func (b *board) remove(p canvas.Primitive) {
	b.scene.delete(p.ID)
	b.model.RemovePrimitive(p)
}

// forward performs an effect.
func (b *board) forward(e effect) {
	for _, p := range e.removed {
		b.remove(p)
	}
	for _, p := range e.added {
		b.add(p)
	}
}

// reverse undoes an effect.
func (b *board) reverse(e effect) {
	for _, p := range slices.Backward(e.added) {
		b.remove(p)
	}
	for _, p := range e.removed {
		b.add(p)
	}
}

// plan computes the effect of an edit action against the current scene
// without touching the canvas.
func (b *board) plan(a Action) (effect, error) {
	switch a.Kind {
	case KindStrokeDraw, KindHighlightDraw:
		kind := canvas.KindStroke
		if a.Kind == KindHighlightDraw {
			kind = canvas.KindHighlight
		}
		id := a.PrimitiveID()
		if _, exists := b.scene.get(id); exists {
			return effect{}, fmt.Errorf("primitive %s already on the canvas", id)
		}
		return effect{added: []canvas.Primitive{{
			ID:     id,
			Kind:   kind,
			Points: slices.Clone(a.Stroke.Points),
			Color:  a.Stroke.Color,
			Width:  a.Stroke.Width,
		}}}, nil

	case KindErase:
		return effect{removed: b.scene.touching(a.Erase.Area)}, nil

	case KindTextCreate:
		id := a.PrimitiveID()
		if _, exists := b.scene.get(id); exists {
			return effect{}, fmt.Errorf("text %s already on the canvas", id)
		}
		return effect{added: []canvas.Primitive{{
			ID:       id,
			Kind:     canvas.KindText,
			Text:     a.Text.Content,
			Position: a.Text.Position,
			Color:    a.Text.Color,
		}}}, nil

	case KindTextMove, KindTextContentChange:
		current, exists := b.scene.get(a.Text.TextID)
		if !exists || current.Kind != canvas.KindText {
			return effect{}, fmt.Errorf("no text %s on the canvas", a.Text.TextID)
		}
		updated := current
		if a.Kind == KindTextMove {
			updated.Position = a.Text.Position
		} else {
			updated.Text = a.Text.Content
		}
		return effect{removed: []canvas.Primitive{current}, added: []canvas.Primitive{updated}}, nil
	}
	return effect{}, fmt.Errorf("%s is not an edit", a.Kind)
}
