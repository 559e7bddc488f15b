package shelf

import "sync"

// UndoStack is the in-memory LIFO of soft deletions. It is not persisted;
// trash contents outlive it.
type UndoStack struct {
	mu      sync.Mutex
	records []UndoRecord
}

func NewUndoStack() *UndoStack {
	return &UndoStack{}
}

func (u *UndoStack) Push(rec UndoRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
}

// Pop removes and returns the most recent record.
func (u *UndoStack) Pop() (UndoRecord, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.records) == 0 {
		return UndoRecord{}, false
	}
	rec := u.records[len(u.records)-1]
	u.records = u.records[:len(u.records)-1]
	return rec, true
}

// Remove drops the most recent record equal to rec, reporting whether one
// was found. Used when a record is restored directly rather than popped.
func (u *UndoStack) Remove(rec UndoRecord) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := len(u.records) - 1; i >= 0; i-- {
		if u.records[i] == rec {
			u.records = append(u.records[:i], u.records[i+1:]...)
			return true
		}
	}
	return false
}

func (u *UndoStack) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.records)
}

func (u *UndoStack) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = nil
}
