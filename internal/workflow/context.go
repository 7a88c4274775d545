package workflow

import "sync"

// Context keys written by the research steps. Only the designated step writes
// a given key (single-writer-per-key discipline).
const (
	KeyResearchTopic  = "research_topic"
	KeyTotalQuestions = "total_questions"
)

// Store is the per-run working memory outside event payloads: a key/value
// map scoped to one run and destroyed with it.
type Store struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewStore creates an empty run store.
func NewStore() *Store {
	return &Store{values: make(map[string]interface{})}
}

// Set stores a value under key.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get retrieves the value for key.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString retrieves a string value; empty string if missing or wrong type.
func (s *Store) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// GetInt retrieves an int value; 0 if missing or wrong type.
func (s *Store) GetInt(key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}
