package imagestore

import (
	"context"
	"sync"
)

// Object is an image held by MemoryStore.
type Object struct {
	ContentType string
	Data        []byte
}

// MemoryStore keeps images in memory. It stands in for the public directory
// in tests and dry runs.
type MemoryStore struct {
	mu        sync.Mutex
	urlPrefix string
	objects   map[string]Object
	puts      int
}

func NewMemoryStore(urlPrefix string) *MemoryStore {
	return &MemoryStore{urlPrefix: urlPrefix, objects: make(map[string]Object)}
}

func (s *MemoryStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = Object{ContentType: contentType, Data: buf}
	s.puts++
	return sitePath(s.urlPrefix, name), nil
}

// Get returns the object stored under name.
func (s *MemoryStore) Get(name string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[name]
	return obj, ok
}

// Len returns the number of distinct objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Puts returns the number of Put calls that succeeded.
func (s *MemoryStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
