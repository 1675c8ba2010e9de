// Package watch keeps per-chat watch lists: marketplace collections feeding
// the activity feed and contracts whose pending purchases are tracked.
package watch

import (
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type ChatWatch struct {
	Collections []string
	Contracts   []common.Address
}

type entry struct {
	collections map[string]struct{}
	contracts   map[common.Address]struct{}
}

type Store struct {
	mu       sync.RWMutex
	data     map[int64]*entry
	onChange []func()
}

func NewStore() *Store {
	return &Store{data: make(map[int64]*entry)}
}

// OnChange registers f to run after any mutation, outside the lock.
func (s *Store) OnChange(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, f)
}

func (s *Store) changed() {
	s.mu.RLock()
	fs := append([]func(){}, s.onChange...)
	s.mu.RUnlock()
	for _, f := range fs {
		f()
	}
}

func (s *Store) AddCollection(chatID int64, slug string) bool {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return false
	}
	s.mu.Lock()
	e := s.getOrCreate(chatID)
	_, had := e.collections[slug]
	e.collections[slug] = struct{}{}
	s.mu.Unlock()

	if !had {
		s.changed()
	}
	return !had
}

func (s *Store) RemoveCollection(chatID int64, slug string) bool {
	s.mu.Lock()
	e := s.data[chatID]
	if e == nil {
		s.mu.Unlock()
		return false
	}
	_, had := e.collections[strings.TrimSpace(slug)]
	delete(e.collections, strings.TrimSpace(slug))
	s.cleanupIfEmpty(chatID, e)
	s.mu.Unlock()

	if had {
		s.changed()
	}
	return had
}

func (s *Store) AddContract(chatID int64, addr common.Address) bool {
	s.mu.Lock()
	e := s.getOrCreate(chatID)
	_, had := e.contracts[addr]
	e.contracts[addr] = struct{}{}
	s.mu.Unlock()

	if !had {
		s.changed()
	}
	return !had
}

func (s *Store) RemoveContract(chatID int64, addr common.Address) bool {
	s.mu.Lock()
	e := s.data[chatID]
	if e == nil {
		s.mu.Unlock()
		return false
	}
	_, had := e.contracts[addr]
	delete(e.contracts, addr)
	s.cleanupIfEmpty(chatID, e)
	s.mu.Unlock()

	if had {
		s.changed()
	}
	return had
}

func (s *Store) ClearAll(chatID int64) {
	s.mu.Lock()
	_, had := s.data[chatID]
	delete(s.data, chatID)
	s.mu.Unlock()

	if had {
		s.changed()
	}
}

// GetCopy returns a sorted copy of one chat's lists.
func (s *Store) GetCopy(chatID int64) (ChatWatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.data[chatID]
	if e == nil {
		return ChatWatch{}, false
	}
	return ChatWatch{Collections: sortedSlugs(e.collections), Contracts: sortedAddrs(e.contracts)}, true
}

// Collections is the union over all chats.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, e := range s.data {
		for c := range e.collections {
			set[c] = struct{}{}
		}
	}
	return sortedSlugs(set)
}

// Contracts is the union over all chats.
func (s *Store) Contracts() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[common.Address]struct{})
	for _, e := range s.data {
		for a := range e.contracts {
			set[a] = struct{}{}
		}
	}
	return sortedAddrs(set)
}

// MatchContract returns the chats watching addr.
func (s *Store) MatchContract(addr common.Address) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []int64
	for chatID, e := range s.data {
		if _, ok := e.contracts[addr]; ok {
			out = append(out, chatID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Chats lists every chat with a non-empty watch list.
func (s *Store) Chats() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int64, 0, len(s.data))
	for id := range s.data {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) getOrCreate(chatID int64) *entry {
	e := s.data[chatID]
	if e == nil {
		e = &entry{
			collections: make(map[string]struct{}),
			contracts:   make(map[common.Address]struct{}),
		}
		s.data[chatID] = e
	}
	return e
}

func (s *Store) cleanupIfEmpty(chatID int64, e *entry) {
	if len(e.collections) == 0 && len(e.contracts) == 0 {
		delete(s.data, chatID)
	}
}

func sortedSlugs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sortedAddrs(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
