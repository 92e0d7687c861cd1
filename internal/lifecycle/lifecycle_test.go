package lifecycle

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeComponent) Start(ctx context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)
	return nil
}

func (f *fakeComponent) Name() string { return f.name }

func TestManager_StartStopOrdering(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(&fakeComponent{name: "store", events: &events}))
	require.NoError(t, m.Register(&fakeComponent{name: "server", events: &events}))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	// Start in registration order, stop in reverse
	assert.Equal(t, []string{"start:store", "start:server", "stop:server", "stop:store"}, events)
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(&fakeComponent{name: "store", events: &events}))
	require.NoError(t, m.Register(&fakeComponent{name: "broken", startErr: fmt.Errorf("boom"), events: &events}))
	require.NoError(t, m.Register(&fakeComponent{name: "server", events: &events}))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	// The component after the failure never starts; the one before is stopped
	assert.Equal(t, []string{"start:store", "start:broken", "stop:store"}, events)
}

func TestManager_RegisterValidation(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.Register(nil))

	var events []string
	c := &fakeComponent{name: "dup", events: &events}
	require.NoError(t, m.Register(c))
	assert.Error(t, m.Register(c))

	assert.Error(t, m.Register(&fakeComponent{name: "", events: &events}))
}
