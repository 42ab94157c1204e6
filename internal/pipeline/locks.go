package pipeline

import "sync"

type senderLock struct {
	mu   sync.Mutex
	refs int
}

// senderLocks hands out one mutex per sender and forgets it once nobody holds or waits for it
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLock
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[string]*senderLock)}
}

// Lock blocks until senderID is free and returns the matching unlock
func (s *senderLocks) Lock(senderID string) func() {
	s.mu.Lock()
	l, ok := s.locks[senderID]
	if !ok {
		l = &senderLock{}
		s.locks[senderID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, senderID)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of senders currently holding or waiting for a lock
func (s *senderLocks) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
