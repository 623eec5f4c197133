// Package model defines the text records edited in the numbered slots.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Slot is one of the fixed numbered positions a text can occupy. It is the
// natural key of a record in the backing table.
type Slot int

const (
	MinSlot Slot = 1
	MaxSlot Slot = 24
)

func (s Slot) Valid() bool {
	return s >= MinSlot && s <= MaxSlot
}

func (s Slot) String() string {
	return strconv.Itoa(int(s))
}

func ParseSlot(v string) (Slot, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid slot %q: %w", v, err)
	}
	s := Slot(n)
	if !s.Valid() {
		return 0, fmt.Errorf("slot %d out of range %d-%d", n, MinSlot, MaxSlot)
	}
	return s, nil
}

// Slots returns every valid slot in ascending order.
func Slots() []Slot {
	slots := make([]Slot, 0, MaxSlot)
	for s := MinSlot; s <= MaxSlot; s++ {
		slots = append(slots, s)
	}
	return slots
}

// DefaultTitle is the title shown for a slot without a saved record.
func DefaultTitle(s Slot) string {
	return "Text " + s.String()
}

// TextRecord is a row of the texts table. ID and CreatedAt are assigned by
// the backend and are informational only.
type TextRecord struct {
	ID        *int64     `json:"id,omitempty"`
	Slot      Slot       `json:"text_number"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Patch returns the fields sent when updating an existing row.
func (r TextRecord) Patch() TextPatch {
	return TextPatch{
		Title:     r.Title,
		Content:   r.Content,
		UpdatedAt: r.UpdatedAt,
	}
}

// TextPatch is the body of a partial update filtered by slot.
type TextPatch struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}
