package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reloadRecorder struct {
	mu      sync.Mutex
	configs []*File
	notify  chan struct{}
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{notify: make(chan struct{}, 16)}
}

func (r *reloadRecorder) callback(cfg *File) error {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs)
}

func (r *reloadRecorder) last() *File {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return nil
	}
	return r.configs[len(r.configs)-1]
}

func waitForReload(t *testing.T, rec *reloadRecorder, want int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for rec.count() < want {
		select {
		case <-rec.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d reloads, got %d", want, rec.count())
		}
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{}, func(*File) error { return nil })
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{FilePath: "x.yaml"}, nil)
	assert.Error(t, err)
}

func TestWatcher_InitialLoadAndReload(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	rec := newReloadRecorder()

	w, err := NewWatcher(WatcherConfig{FilePath: path, DebounceMillis: 50}, rec.callback)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	waitForReload(t, rec, 1)
	assert.Equal(t, 8080, rec.last().Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))
	waitForReload(t, rec, 2)
	assert.Equal(t, 9090, rec.last().Server.Port)
}

func TestWatcher_KeepsPreviousConfigOnInvalidReload(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	rec := newReloadRecorder()

	w, err := NewWatcher(WatcherConfig{FilePath: path, DebounceMillis: 50}, rec.callback)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	waitForReload(t, rec, 1)

	// An invalid write must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 8080, rec.last().Server.Port)
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 99999\n")
	w, err := NewWatcher(WatcherConfig{FilePath: path}, func(*File) error { return nil })
	require.NoError(t, err)

	assert.Error(t, w.Start(context.Background()))
}
