package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/distribution-auth/ghapp/ghapp"
)

// InMemoryStore keeps connections, tokens and builds in memory.
//
// The zero value is ready to use.
type InMemoryStore struct {
	connections []ghapp.Connection
	tokens      map[int64]ghapp.IssuedToken
	builds      map[int64]time.Time

	initOnce sync.Once
	mu       sync.RWMutex
}

func (s *InMemoryStore) init() {
	s.initOnce.Do(func() {
		if s.tokens == nil {
			s.tokens = make(map[int64]ghapp.IssuedToken)
		}

		if s.builds == nil {
			s.builds = make(map[int64]time.Time)
		}
	})
}

func (s *InMemoryStore) FindConnection(_ context.Context, predicate func(ghapp.Connection) bool) (ghapp.Connection, bool, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, connection := range s.connections {
		if predicate(connection) {
			return connection, true, nil
		}
	}

	return ghapp.Connection{}, false, nil
}

func (s *InMemoryStore) ListConnections(_ context.Context) ([]ghapp.Connection, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.connections), nil
}

func (s *InMemoryStore) AddConnection(_ context.Context, connection ghapp.Connection) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.connections {
		if c.AppID == connection.AppID {
			s.connections[i] = connection

			return nil
		}
	}

	s.connections = append(s.connections, connection)

	return nil
}

func (s *InMemoryStore) RemoveConnection(_ context.Context, appID string) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections = slices.DeleteFunc(s.connections, func(c ghapp.Connection) bool {
		return c.AppID == appID
	})

	return nil
}

func (s *InMemoryStore) Get(_ context.Context, buildID int64) (ghapp.IssuedToken, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[buildID]
	if !ok {
		return ghapp.IssuedToken{}, ghapp.ErrNotFound
	}

	return token, nil
}

func (s *InMemoryStore) Put(_ context.Context, buildID int64, token ghapp.IssuedToken) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[buildID] = token

	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, buildID int64) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, buildID)

	return nil
}

func (s *InMemoryStore) BuildIDs(_ context.Context) ([]int64, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	buildIDs := make([]int64, 0, len(s.tokens))
	for buildID := range s.tokens {
		buildIDs = append(buildIDs, buildID)
	}

	slices.Sort(buildIDs)

	return buildIDs, nil
}

func (s *InMemoryStore) PutBuild(_ context.Context, buildID int64, seen time.Time) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.builds[buildID] = seen

	return nil
}

func (s *InMemoryStore) BuildSeen(_ context.Context, buildID int64) (time.Time, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen, ok := s.builds[buildID]
	if !ok {
		return time.Time{}, ghapp.ErrNotFound
	}

	return seen, nil
}

func (s *InMemoryStore) DeleteBuild(_ context.Context, buildID int64) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.builds, buildID)

	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
