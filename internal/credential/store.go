package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/observable"
)

// WriteMode selects whether a write is published to subscribers.
type WriteMode int

const (
	Notify WriteMode = iota
	// Silent updates storage only. Used right before a hard navigation discards every reader.
	Silent
)

const flagSet = "true"

type Store struct {
	storage domain.TabStorage
	changes *observable.Subject[domain.Credential]

	// held across a write and its publish, so subscribers see writes in storage order
	mu sync.Mutex
}

func NewStore(storage domain.TabStorage) *Store {
	if storage == nil {
		panic("credential: nil storage")
	}
	return &Store{
		storage: storage,
		changes: observable.NewSubject[domain.Credential](),
	}
}

// Read returns the current credential. A missing credential is the zero value, not an error.
func (s *Store) Read(ctx context.Context) (domain.Credential, error) {
	value, ok, err := s.storage.Get(ctx, domain.CredentialKey)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	if !ok {
		return "", nil
	}
	return domain.Credential(value), nil
}

func (s *Store) Set(ctx context.Context, cred domain.Credential, mode WriteMode) error {
	if cred.IsZero() {
		return s.Clear(ctx, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Set(ctx, domain.CredentialKey, string(cred)); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if mode == Notify {
		s.changes.Publish(cred)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, mode WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Delete(ctx, domain.CredentialKey); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	if mode == Notify {
		s.changes.Publish("")
	}
	return nil
}

// Subscribe observes every notifying write. The callback runs on the writer's goroutine
// and must not write to the store.
func (s *Store) Subscribe(fn func(domain.Credential)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

func (s *Store) Impersonated(ctx context.Context) (bool, error) {
	value, ok, err := s.storage.Get(ctx, domain.ImpersonationKey)
	if err != nil {
		return false, fmt.Errorf("read impersonation flag: %w", err)
	}
	return ok && value == flagSet, nil
}

// SetImpersonated writes the impersonation flag. Only the session coordinator calls this.
func (s *Store) SetImpersonated(ctx context.Context, impersonated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if impersonated {
		err = s.storage.Set(ctx, domain.ImpersonationKey, flagSet)
	} else {
		err = s.storage.Delete(ctx, domain.ImpersonationKey)
	}
	if err != nil {
		return fmt.Errorf("write impersonation flag: %w", err)
	}
	return nil
}
