package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRegistry(t *testing.T) {
	r := NewClientRegistry()
	old := time.Now().Add(-10 * time.Minute)

	a := &Client{ID: "a", ConnectedAt: old, lastActivity: old, authenticated: true}
	b := &Client{ID: "b", ConnectedAt: time.Now(), lastActivity: time.Now()}
	r.Add(b)
	r.Add(a)
	assert.Equal(t, 2, r.Count())

	got, ok := r.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	infos := r.GetConnectedClients()
	assert.Equal(t, "a", infos[0].ID)
	assert.True(t, infos[0].Idle)
	assert.True(t, infos[0].Authenticated)
	assert.False(t, infos[1].Idle)

	r.UpdateActivity("a")
	r.UpdateActivity("missing")
	assert.False(t, r.GetConnectedClients()[0].Idle)

	r.Remove("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Len(t, r.GetAll(), 1)
}
