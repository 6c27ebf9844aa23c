package reducer

import (
	"sort"
	"sync"

	"github.com/report-variables-server/internal/domain"
)

// Listener is notified after every transition that changed the state.
type Listener func(prev, next State, action Action)

// Store serializes transitions over a Reducer and publishes the resulting
// states to its listeners.
type Store struct {
	reducer *Reducer

	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
}

// NewStore creates a store starting from initial.
func NewStore(reducer *Reducer, initial State) *Store {
	return &Store{
		reducer:   reducer,
		state:     initial,
		listeners: map[int]Listener{},
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies action and returns the new state. Listeners are called
// after the store lock is released, so they may dispatch themselves.
func (s *Store) Dispatch(action Action) State {
	prev, next, listeners := s.apply(action)
	if len(listeners) > 0 && prev.version != next.version {
		for _, l := range listeners {
			l(prev, next, action)
		}
	}
	return next
}

// AddVariables inserts a batch and returns the keys that were actually
// inserted. Keys that were already present are not included.
func (s *Store) AddVariables(variables []*domain.Variable, setKey string) []string {
	action := AddVariables{Variables: variables, SetKey: setKey}
	prev, next, listeners := s.apply(action)

	var inserted []string
	seen := map[string]bool{}
	for _, v := range variables {
		if v == nil {
			continue
		}
		key := v.Key()
		if seen[key] || prev.Has(key) || !next.Has(key) {
			continue
		}
		seen[key] = true
		inserted = append(inserted, key)
	}

	if len(inserted) > 0 {
		for _, l := range listeners {
			l(prev, next, action)
		}
	}
	return inserted
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()
	listenersGauge.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
			listenersGauge.Dec()
		})
	}
}

func (s *Store) apply(action Action) (prev, next State, listeners []Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.state
	next = s.reducer.Reduce(prev, action)
	s.state = next

	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	return prev, next, listeners
}
