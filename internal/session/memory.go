package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the reference Store implementation, also used in tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Data
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Data)}
}

func (s *MemoryStore) Create(_ context.Context, data *Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := cloneData(data)
	if record.Metadata.CreatedAt.IsZero() {
		record.Metadata.CreatedAt = time.Now()
	}
	record.Metadata.UpdatedAt = record.Metadata.CreatedAt
	refreshDerived(record)
	s.sessions[record.Metadata.ID] = record
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session.MemoryStore.Get %s: %w", id, ErrSessionNotFound)
	}
	return cloneData(record), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Metadata, 0, len(s.sessions))
	for _, record := range s.sessions {
		out = append(out, record.Metadata)
	}
	// Most recently updated first.
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session.MemoryStore.Delete %s: %w", id, ErrSessionNotFound)
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.sessions[sessionID]
	if !ok {
		// Unknown ids are tolerated: a message may arrive after its
		// session was torn down.
		return nil
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	record.Messages = append(record.Messages, msg)
	record.Metadata.UpdatedAt = time.Now()
	refreshDerived(record)
	return nil
}

func (s *MemoryStore) ClearMessages(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.sessions[id]
	if !ok {
		return nil
	}
	record.Messages = nil
	record.Metadata.MessageCount = 0
	record.Metadata.LastMessagePreview = ""
	return nil
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.sessions[meta.ID]
	if !ok {
		return fmt.Errorf("session.MemoryStore.UpdateMetadata %s: %w", meta.ID, ErrSessionNotFound)
	}

	record.Metadata.Title = meta.Title
	record.Metadata.AgentName = meta.AgentName
	record.Metadata.WsURL = meta.WsURL
	record.Metadata.ModeID = meta.ModeID
	record.Metadata.ModelID = meta.ModelID
	record.Metadata.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Copy(_ context.Context, sourceID, newID, titleSuffix string) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.sessions[sourceID]
	if !ok {
		return nil, fmt.Errorf("session.MemoryStore.Copy %s: %w", sourceID, ErrSessionNotFound)
	}

	record := cloneData(source)
	record.Metadata.ID = newID
	record.Metadata.Title = source.Metadata.Title + titleSuffix
	now := time.Now()
	record.Metadata.CreatedAt = now
	record.Metadata.UpdatedAt = now
	s.sessions[newID] = record
	return cloneData(record), nil
}

func cloneData(data *Data) *Data {
	out := &Data{Metadata: data.Metadata}
	out.Messages = append([]Message(nil), data.Messages...)
	return out
}
