// Package history keeps a bounded record of terminal jobs for later
// querying; oldest entries fall off once the bound is hit.
package history

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type Record struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Filename   string    `json:"filename"`
	FullPath   string    `json:"fullPath"`
	RelPath    string    `json:"relPath"`
	Size       int64     `json:"size"`
	State      string    `json:"state"`
	FinishedAt time.Time `json:"finishedAt"`
}

type History struct {
	l *lru.Cache
}

func New(size int) *History {
	if size < 1 {
		size = 1
	}
	l, _ := lru.New(size)
	return &History{l: l}
}

func (h *History) Add(rec Record) {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	h.l.Add(rec.ID, rec)
}

func (h *History) Get(id string) (Record, bool) {
	v, ok := h.l.Get(id)
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}

// Recent returns up to n records, newest first.
func (h *History) Recent(n int) []Record {
	keys := h.l.Keys()
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}
	out := make([]Record, 0, n)
	for i := len(keys) - 1; i >= 0 && len(out) < n; i-- {
		if v, ok := h.l.Peek(keys[i]); ok {
			out = append(out, v.(Record))
		}
	}
	return out
}

func (h *History) Len() int {
	return h.l.Len()
}
