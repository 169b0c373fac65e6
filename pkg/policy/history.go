// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package policy

// History is a fixed-length ring of observations. It starts zero-filled so the
// policy always sees HistoryLength entries.
type History struct {
	rows  [][]float64
	next  int
	count int
}

// NewHistory creates a zero-filled history of length rows, each width wide
func NewHistory(length, width int) *History {
	rows := make([][]float64, length)
	for i := range rows {
		rows[i] = make([]float64, width)
	}
	return &History{rows: rows}
}

// Push copies obs over the oldest row
func (h *History) Push(obs []float64) {
	copy(h.rows[h.next], obs)
	h.next = (h.next + 1) % len(h.rows)
	if h.count < len(h.rows) {
		h.count++
	}
}

// Len returns the number of pushed observations, capped at the history length
func (h *History) Len() int {
	return h.count
}

// Full reports whether every row holds a real observation
func (h *History) Full() bool {
	return h.count == len(h.rows)
}

// Rows returns the rows oldest first. The slices alias the ring and are only
// valid until the next Push.
func (h *History) Rows() [][]float64 {
	out := make([][]float64, 0, len(h.rows))
	out = append(out, h.rows[h.next:]...)
	out = append(out, h.rows[:h.next]...)
	return out
}

// Reset zero-fills every row
func (h *History) Reset() {
	for _, row := range h.rows {
		for i := range row {
			row[i] = 0
		}
	}
	h.next = 0
	h.count = 0
}
