package api

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultStoreSize bounds how many tilings a TilingStore keeps.
const DefaultStoreSize = 4096

// TilingStore keeps recent tilings so clients can fetch them again by id.
// When full, the oldest entry is dropped.
type TilingStore struct {
	mu      sync.Mutex
	max     int
	order   []string
	tilings map[string]TilingResponse
}

func NewTilingStore(max int) *TilingStore {
	if max <= 0 {
		max = DefaultStoreSize
	}
	return &TilingStore{
		max:     max,
		tilings: make(map[string]TilingResponse),
	}
}

// Put assigns resp an id, stores it and returns the stored copy.
func (s *TilingStore) Put(resp TilingResponse) TilingResponse {
	resp.ID = newTilingID()
	resp.Object = "tiling"

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) >= s.max {
		delete(s.tilings, s.order[0])
		s.order = s.order[1:]
	}
	s.tilings[resp.ID] = resp
	s.order = append(s.order, resp.ID)
	return resp
}

func (s *TilingStore) Get(id string) (TilingResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.tilings[id]
	return resp, ok
}

func (s *TilingStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tilings[id]; !ok {
		return false
	}
	delete(s.tilings, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *TilingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tilings)
}

func newTilingID() string {
	return "tiling_" + uuid.NewString()
}
