// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package canvas defines the drawing surface the synchronizer edits.
// A renderer implements Model; Easel itself only ever adds, removes,
// and clears primitives.
package canvas

import (
	"fmt"
	"log/slog"
	"slices"
)

// Kind is the type of a drawn primitive.
type Kind string

const (
	KindStroke    Kind = "stroke"
	KindHighlight Kind = "highlight"
	KindText      Kind = "text"
)

// Point is a canvas coordinate.
type Point struct {
	X float64 `cbor:"x" json:"x"`
	Y float64 `cbor:"y" json:"y"`
}

// Rect is an axis-aligned rectangle. Min is the top-left corner.
type Rect struct {
	Min Point `cbor:"min" json:"min"`
	Max Point `cbor:"max" json:"max"`
}

// Normalize returns r with Min and Max ordered on both axes.
func (r Rect) Normalize() Rect {
	return Rect{
		Min: Point{X: min(r.Min.X, r.Max.X), Y: min(r.Min.Y, r.Max.Y)},
		Max: Point{X: max(r.Min.X, r.Max.X), Y: max(r.Min.Y, r.Max.Y)},
	}
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Primitive is one visual element. ID is unique on a canvas and is
// derived from the action that created it, so every peer names the
// same stroke the same way.
type Primitive struct {
	ID       string
	Kind     Kind
	Points   []Point
	Color    string
	Width    float64
	Text     string
	Position Point
}

// Touches reports whether any part of the primitive lies in r. Text is
// hit by its anchor position.
func (p Primitive) Touches(r Rect) bool {
	if p.Kind == KindText {
		return r.Contains(p.Position)
	}
	return slices.ContainsFunc(p.Points, r.Contains)
}

func (p Primitive) String() string {
	if p.Kind == KindText {
		return fmt.Sprintf("%s %s %q at (%.1f,%.1f)", p.Kind, p.ID, p.Text, p.Position.X, p.Position.Y)
	}
	return fmt.Sprintf("%s %s %d points %s", p.Kind, p.ID, len(p.Points), p.Color)
}

// Model is the rendering layer's surface. Implementations need not be
// safe for concurrent use; the synchronizer calls them from one
// goroutine.
type Model interface {
	AddPrimitive(Primitive)
	RemovePrimitive(Primitive)
	Clear()
}

// Memory is a Model that keeps primitives in insertion order.
type Memory struct {
	primitives []Primitive
}

// NewMemory returns an empty canvas.
func NewMemory() *Memory { return &Memory{} }

// AddPrimitive appends p, replacing any primitive with the same ID.
func (m *Memory) AddPrimitive(p Primitive) {
	m.RemovePrimitive(p)
	m.primitives = append(m.primitives, p)
}

// RemovePrimitive removes the primitive with p's ID, if present.
func (m *Memory) RemovePrimitive(p Primitive) {
	m.primitives = slices.DeleteFunc(m.primitives, func(existing Primitive) bool {
		return existing.ID == p.ID
	})
}

// Clear removes every primitive.
func (m *Memory) Clear() { m.primitives = nil }

// Primitives returns a copy of the canvas contents in drawing order.
func (m *Memory) Primitives() []Primitive {
	return slices.Clone(m.primitives)
}

// Find returns the primitive with id.
func (m *Memory) Find(id string) (Primitive, bool) {
	index := slices.IndexFunc(m.primitives, func(p Primitive) bool { return p.ID == id })
	if index < 0 {
		return Primitive{}, false
	}
	return m.primitives[index], true
}

// Logging wraps a Model and logs every call at Debug.
type Logging struct {
	Model  Model
	Logger *slog.Logger
}

func (l Logging) AddPrimitive(p Primitive) {
	l.Logger.Debug("canvas add", "primitive", p.String())
	l.Model.AddPrimitive(p)
}

func (l Logging) RemovePrimitive(p Primitive) {
	l.Logger.Debug("canvas remove", "primitive", p.ID)
	l.Model.RemovePrimitive(p)
}

func (l Logging) Clear() {
	l.Logger.Debug("canvas clear")
	l.Model.Clear()
}
