package readiness

import (
	"bytes"
	"sort"
	"time"
)

// MarkerSuffix completes "<prefix>-<service>" into the line a ready service writes.
const MarkerSuffix = " is ready to go"

func Marker(prefix, service string) string {
	return prefix + "-" + service + MarkerSuffix
}

// ServiceStatus is one row of a State snapshot.
type ServiceStatus struct {
	Name    string
	Ready   bool
	ReadyAt time.Duration
}

// State tracks which expected services have reported ready. A service flips
// to ready at most once and never back.
type State struct {
	order   []string
	readyAt map[string]time.Duration
	started time.Time
	now     func() time.Time
}

func NewState(services []string) *State {
	seen := make(map[string]bool, len(services))
	order := make([]string, 0, len(services))
	for _, name := range services {
		if seen[name] {
			continue
		}
		seen[name] = true
		order = append(order, name)
	}
	return &State{
		order:   order,
		readyAt: make(map[string]time.Duration, len(order)),
		started: time.Now(),
		now:     time.Now,
	}
}

func (s *State) expected(name string) bool {
	for _, candidate := range s.order {
		if candidate == name {
			return true
		}
	}
	return false
}

// MarkReady reports whether name transitioned from pending to ready.
func (s *State) MarkReady(name string) bool {
	if !s.expected(name) {
		return false
	}
	if _, ok := s.readyAt[name]; ok {
		return false
	}
	s.readyAt[name] = s.now().Sub(s.started)
	return true
}

func (s *State) IsReady(name string) bool {
	_, ok := s.readyAt[name]
	return ok
}

// Pending lists services still waiting, in sorted order.
func (s *State) Pending() []string {
	var pending []string
	for _, name := range s.order {
		if !s.IsReady(name) {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}

func (s *State) ReadyCount() int {
	return len(s.readyAt)
}

func (s *State) Total() int {
	return len(s.order)
}

func (s *State) Done() bool {
	return len(s.readyAt) == len(s.order)
}

func (s *State) Snapshot() []ServiceStatus {
	out := make([]ServiceStatus, len(s.order))
	for i, name := range s.order {
		at, ok := s.readyAt[name]
		out[i] = ServiceStatus{Name: name, Ready: ok, ReadyAt: at}
	}
	return out
}

// Scan checks content for the marker of every pending service and returns
// the services that became ready.
func Scan(state *State, content []byte, prefix string) []string {
	var newly []string
	for _, name := range state.order {
		if state.IsReady(name) {
			continue
		}
		if bytes.Contains(content, []byte(Marker(prefix, name))) && state.MarkReady(name) {
			newly = append(newly, name)
		}
	}
	return newly
}
