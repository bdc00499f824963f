package tier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// mockTierStore is a thread-safe in-memory Store for testing.
type mockTierStore struct {
	mu        sync.Mutex
	files     map[string][]byte
	modTimes  map[string]time.Time
	createErr error
	commitErr error
	openErr   error
	// corrupt flips a byte of every committed file.
	corrupt bool
}

func newMockStore() *mockTierStore {
	return &mockTierStore{
		files:    make(map[string][]byte),
		modTimes: make(map[string]time.Time),
	}
}

func (m *mockTierStore) Create(_ context.Context, rel string, modTime time.Time) (Writer, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &mockWriter{store: m, rel: rel, modTime: modTime}, nil
}

func (m *mockTierStore) Open(_ context.Context, rel string) (io.ReadCloser, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.mu.Lock()
	data, ok := m.files[rel]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockTierStore) Exists(_ context.Context, rel string) (bool, error) {
	m.mu.Lock()
	_, ok := m.files[rel]
	m.mu.Unlock()
	return ok, nil
}

func (m *mockTierStore) Delete(_ context.Context, rel string) error {
	m.mu.Lock()
	delete(m.files, rel)
	m.mu.Unlock()
	return nil
}

func (m *mockTierStore) Location(rel string) string {
	return "mock://" + rel
}

func (m *mockTierStore) get(rel string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[rel]
	return data, ok
}

func (m *mockTierStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

type mockWriter struct {
	store   *mockTierStore
	rel     string
	modTime time.Time
	buf     bytes.Buffer
}

func (w *mockWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *mockWriter) Commit() error {
	if w.store.commitErr != nil {
		return w.store.commitErr
	}
	data := append([]byte(nil), w.buf.Bytes()...)
	if w.store.corrupt && len(data) > 0 {
		data[len(data)/2] ^= 0xff
	}
	w.store.mu.Lock()
	w.store.files[w.rel] = data
	w.store.modTimes[w.rel] = w.modTime
	w.store.mu.Unlock()
	return nil
}

func (w *mockWriter) Abort() error {
	w.buf.Reset()
	return nil
}
