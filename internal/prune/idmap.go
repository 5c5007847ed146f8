package prune

// IDMap assigns small integers to tool-call ids so the list shown to the acting
// model stays short. Numbers start at 1, are never reused, and a pair never
// changes once assigned.
type IDMap struct {
	next     int
	byActual map[string]int
	byNumber map[int]string
}

func NewIDMap() *IDMap {
	return &IDMap{
		next:     1,
		byActual: make(map[string]int),
		byNumber: make(map[int]string),
	}
}

// GetOrCreate returns the number for actualID, assigning the next one if needed.
func (m *IDMap) GetOrCreate(actualID string) int {
	key := normalizeID(actualID)
	if n, ok := m.byActual[key]; ok {
		return n
	}
	n := m.next
	m.next++
	m.byActual[key] = n
	m.byNumber[n] = actualID
	return n
}

// Lookup returns the number already assigned to actualID.
func (m *IDMap) Lookup(actualID string) (int, bool) {
	n, ok := m.byActual[normalizeID(actualID)]
	return n, ok
}

// Resolve returns the actual id for n. Unassigned numbers are not coerced.
func (m *IDMap) Resolve(n int) (string, bool) {
	id, ok := m.byNumber[n]
	return id, ok
}

// Len returns the number of assigned pairs.
func (m *IDMap) Len() int {
	return len(m.byNumber)
}
