package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CustomList is a user-named collection. ID is generated once on the device
// that created the list and never changes, so local and remote copies are
// matched by id rather than by name.
type CustomList struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Entries     []Item    `json:"entries"`
}

// HasEntry reports whether the list already holds an entry with key k.
func (l CustomList) HasEntry(k Key) bool {
	for _, e := range l.Entries {
		if e.Key() == k {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so an optimistic update can be rolled back.
func (l CustomList) Clone() CustomList {
	cp := l
	cp.Entries = append([]Item(nil), l.Entries...)
	return cp
}

// ContentHash digests the name, description and entry contents in order.
// Entry timestamps are excluded, as in [Item.ContentHash].
func (l CustomList) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(l.ID))
	h.Write([]byte("|"))
	h.Write([]byte(l.Name))
	h.Write([]byte("|"))
	h.Write([]byte(l.Description))
	for _, e := range l.Entries {
		h.Write([]byte("|"))
		h.Write([]byte(e.ContentHash()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
