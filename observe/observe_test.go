package observe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFiresInRegistrationOrder(t *testing.T) {
	r := NewRegistry[int]()
	var order []int

	r.Register(func(v int) { order = append(order, 1) })
	r.Register(func(v int) { order = append(order, 2) })
	r.Register(func(v int) { order = append(order, 3) })

	r.Fire(0)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestHandleDeregisterRemovesHandler(t *testing.T) {
	r := NewRegistry[int]()
	var fired bool

	h := r.Register(func(v int) { fired = true })
	h.Deregister()

	r.Fire(0)
	assert.False(t, fired)
	assert.Equal(t, 0, r.Len())
}

func TestHandleDeregisterIsIdempotent(t *testing.T) {
	r := NewRegistry[int]()
	h := r.Register(func(int) {})
	h.Deregister()
	assert.NotPanics(t, func() { h.Deregister() })
}

func TestStreamDeliversValuesAndClosesOnce(t *testing.T) {
	var closedCount int
	s := NewStream[int](4, func() { closedCount++ })

	s.Send(1)
	s.Send(2)
	s.Close()
	s.Close()

	var got []int
	for v := range s.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 1, closedCount)
}

func TestStreamSendAfterCloseDoesNotBlock(t *testing.T) {
	s := NewStream[int](0, nil)
	s.Close()

	done := make(chan struct{})
	go func() {
		s.Send(1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked after Close")
	}
}

func TestFireSnapshotUnaffectedByMidFireDeregistration(t *testing.T) {
	r := NewRegistry[int]()
	var calls int
	var h *Handle
	h = r.Register(func(int) {
		calls++
		h.Deregister()
	})
	require.NotNil(t, h)

	r.Fire(0)
	r.Fire(0)
	assert.Equal(t, 1, calls)
}
