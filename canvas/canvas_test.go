// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package canvas

import "testing"

func TestMemoryAddRemove(t *testing.T) {
	model := NewMemory()
	stroke := Primitive{ID: "a/1", Kind: KindStroke, Points: []Point{{1, 1}, {2, 2}}}
	text := Primitive{ID: "a/2", Kind: KindText, Text: "hi", Position: Point{5, 5}}

	model.AddPrimitive(stroke)
	model.AddPrimitive(text)
	if got := len(model.Primitives()); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}

	moved := text
	moved.Position = Point{9, 9}
	model.AddPrimitive(moved)
	primitives := model.Primitives()
	if len(primitives) != 2 || primitives[1].Position != (Point{9, 9}) {
		t.Fatalf("re-adding an ID should replace it: %+v", primitives)
	}

	model.RemovePrimitive(stroke)
	if _, ok := model.Find("a/1"); ok {
		t.Fatal("stroke still present after RemovePrimitive")
	}
	model.Clear()
	if len(model.Primitives()) != 0 {
		t.Fatal("Clear left primitives behind")
	}
}

func TestTouches(t *testing.T) {
	area := Rect{Min: Point{10, 10}, Max: Point{0, 0}}.Normalize()
	tests := []struct {
		name      string
		primitive Primitive
		want      bool
	}{
		{"stroke through", Primitive{Kind: KindStroke, Points: []Point{{-5, -5}, {5, 5}}}, true},
		{"stroke outside", Primitive{Kind: KindStroke, Points: []Point{{20, 20}, {30, 30}}}, false},
		{"stroke on edge", Primitive{Kind: KindHighlight, Points: []Point{{10, 3}}}, true},
		{"text inside", Primitive{Kind: KindText, Position: Point{4, 4}}, true},
		{"text outside", Primitive{Kind: KindText, Position: Point{40, 4}}, false},
	}
	for _, test := range tests {
		if got := test.primitive.Touches(area); got != test.want {
			t.Errorf("%s: Touches = %v, want %v", test.name, got, test.want)
		}
	}
}
