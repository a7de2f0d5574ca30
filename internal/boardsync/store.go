package boardsync

import (
	"strings"

	"github.com/agentworkforce/boardsync/internal/board"
)

// Store is the ordered in-memory list of records for one board plus its
// pagination. It never holds two records with the same id. Store is not safe
// for concurrent use; the Controller serialises access to it.
type Store struct {
	entities   []board.Entity
	pagination board.Pagination
}

func NewStore() *Store {
	return &Store{}
}

// Replace swaps the whole list, keeping the first copy of any repeated id.
func (s *Store) Replace(entities []board.Entity, pagination board.Pagination) {
	next := make([]board.Entity, 0, len(entities))
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		next = append(next, e.Clone())
	}
	s.entities = next
	s.pagination = pagination
}

// Append adds a further page, skipping ids already present, and adopts the
// page's pagination. It returns how many records were added.
func (s *Store) Append(entities []board.Entity, pagination board.Pagination) int {
	added := 0
	for _, e := range entities {
		if strings.TrimSpace(e.ID) == "" || s.Has(e.ID) {
			continue
		}
		s.entities = append(s.entities, e.Clone())
		added++
	}
	s.pagination = pagination
	return added
}

// Insert puts e at the head and bumps the total. It is a no-op when the id is
// already present.
func (s *Store) Insert(e board.Entity) bool {
	if strings.TrimSpace(e.ID) == "" || s.Has(e.ID) {
		return false
	}
	s.entities = append([]board.Entity{e.Clone()}, s.entities...)
	s.pagination = s.pagination.AdjustTotal(1)
	return true
}

func (s *Store) Delete(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.entities = append(s.entities[:i], s.entities[i+1:]...)
	s.pagination = s.pagination.AdjustTotal(-1)
	return true
}

func (s *Store) Merge(id string, patch board.Patch) (bool, error) {
	i := s.indexOf(id)
	if i < 0 {
		return false, nil
	}
	merged, err := board.Merge(s.entities[i], patch)
	if err != nil {
		return false, err
	}
	s.entities[i] = merged
	return true, nil
}

// Put overwrites the record stored under oldID with e, keeping its position.
// When e carries a different id that is already present elsewhere, the record
// under oldID is dropped instead.
func (s *Store) Put(oldID string, e board.Entity) bool {
	i := s.indexOf(oldID)
	if i < 0 {
		return false
	}
	if e.ID != oldID && s.Has(e.ID) {
		return s.Delete(oldID)
	}
	s.entities[i] = e.Clone()
	return true
}

func (s *Store) Get(id string) (board.Entity, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return board.Entity{}, false
	}
	return s.entities[i].Clone(), true
}

func (s *Store) Has(id string) bool {
	return s.indexOf(id) >= 0
}

func (s *Store) Len() int {
	return len(s.entities)
}

func (s *Store) Entities() []board.Entity {
	out := make([]board.Entity, len(s.entities))
	for i, e := range s.entities {
		out[i] = e.Clone()
	}
	return out
}

func (s *Store) Pagination() board.Pagination {
	return s.pagination
}

func (s *Store) Clear() {
	s.entities = nil
	s.pagination = board.Pagination{}
}

func (s *Store) indexOf(id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i := range s.entities {
		if s.entities[i].ID == id {
			return i
		}
	}
	return -1
}
