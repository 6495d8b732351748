package storage

import "sort"

type logEntry struct {
	value   []byte
	deleted bool
}

// WriteLog buffers the writes of the block (or overlay) in progress.
type WriteLog struct {
	entries map[Key]logEntry
}

// NewWriteLog creates an empty write log.
func NewWriteLog() *WriteLog {
	return &WriteLog{entries: make(map[Key]logEntry)}
}

// Read returns the buffered value of key. ok is false when the log has no
// entry for key; deleted is true when the entry is a deletion.
func (w *WriteLog) Read(key Key) (value []byte, deleted bool, ok bool) {
	e, ok := w.entries[key]
	if !ok {
		return nil, false, false
	}
	return e.value, e.deleted, true
}

func (w *WriteLog) Write(key Key, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	w.entries[key] = logEntry{value: cp}
}

func (w *WriteLog) Delete(key Key) {
	w.entries[key] = logEntry{deleted: true}
}

func (w *WriteLog) Len() int { return len(w.entries) }

// Clear drops every buffered entry.
func (w *WriteLog) Clear() {
	w.entries = make(map[Key]logEntry)
}

// SortedKeys returns the buffered keys in lexicographic order.
func (w *WriteLog) SortedKeys() []Key {
	keys := make([]Key, 0, len(w.entries))
	for k := range w.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
