// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package state holds observable view state for the client core.
package state

import "sync"

// Store publishes snapshots of T. Subscribers see every snapshot in the order
// the updates were applied. Subscribers may call Get, Subscribe and
// unsubscribe, but must not call Update or Set on the same store.
type Store[T any] struct {
	// notifyMu serialises update plus notification; mu guards the fields
	notifyMu sync.Mutex
	mu       sync.RWMutex
	value    T
	nextID   int
	subs     []subscription[T]
}

type subscription[T any] struct {
	id int
	fn func(T)
}

func New[T any](initial T) *Store[T] {
	return &Store[T]{value: initial}
}

// Get returns the current snapshot.
func (s *Store[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Update applies fn and returns the resulting snapshot.
func (s *Store[T]) Update(fn func(*T)) T {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn(&s.value)
	snapshot := s.value
	subs := append([]subscription[T](nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(snapshot)
	}
	return snapshot
}

// Set replaces the value.
func (s *Store[T]) Set(value T) {
	s.Update(func(v *T) { *v = value })
}

// Subscribe registers fn for future updates and returns a function that removes it.
func (s *Store[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}
