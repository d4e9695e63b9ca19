package supervisor

import "slices"

// Slot pairs a supervisor-assigned slot id with the OS pid running in it.
type Slot struct {
	ID  string `toml:"id" json:"id"`
	PID int    `toml:"pid" json:"pid"`
}

// slotMap is an insertion-ordered slot id -> pid map.
type slotMap struct {
	order []string
	pids  map[string]int
}

func newSlotMap(slots []Slot) *slotMap {
	m := &slotMap{pids: make(map[string]int, len(slots))}
	for _, s := range slots {
		m.set(s.ID, s.PID)
	}
	return m
}

// set inserts id at the end, or updates its pid in place.
func (m *slotMap) set(id string, pid int) {
	if _, ok := m.pids[id]; !ok {
		m.order = append(m.order, id)
	}
	m.pids[id] = pid
}

func (m *slotMap) delete(id string) bool {
	if _, ok := m.pids[id]; !ok {
		return false
	}
	delete(m.pids, id)
	if i := slices.Index(m.order, id); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	return true
}

func (m *slotMap) has(id string) bool {
	_, ok := m.pids[id]
	return ok
}

func (m *slotMap) pid(id string) (int, bool) {
	pid, ok := m.pids[id]
	return pid, ok
}

func (m *slotMap) slotOf(pid int) (string, bool) {
	for _, id := range m.order {
		if m.pids[id] == pid {
			return id, true
		}
	}
	return "", false
}

// oldest returns the earliest inserted slot.
func (m *slotMap) oldest() (Slot, bool) {
	if len(m.order) == 0 {
		return Slot{}, false
	}
	id := m.order[0]
	return Slot{ID: id, PID: m.pids[id]}, true
}

func (m *slotMap) len() int {
	return len(m.order)
}

// slots returns a copy of the entries in insertion order.
func (m *slotMap) slots() []Slot {
	out := make([]Slot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, Slot{ID: id, PID: m.pids[id]})
	}
	return out
}
