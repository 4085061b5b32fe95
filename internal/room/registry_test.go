// ABOUTME: Tests for the session registry fan-out
// ABOUTME: Covers join/leave, single membership, broadcast delivery and isolation

package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillburner/consult-gateway/internal/protocol"
)

func makeEvent(text string) *protocol.Event {
	return &protocol.Event{
		Type: protocol.TypeNewMessage,
		Payload: &protocol.MessagePayload{
			Message: &protocol.MessageDTO{Text: text, Sender: "user"},
		},
	}
}

func recvOrFail(t *testing.T, ch <-chan *protocol.Event) *protocol.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRegistry_SingleMemberReceivesBroadcast(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	ch := r.Join("conn-1", "session-a")
	r.Broadcast("session-a", makeEvent("hello"))

	event := recvOrFail(t, ch)
	assert.Equal(t, protocol.TypeNewMessage, event.Type)
}

func TestRegistry_AllMembersReceiveExactlyOnce(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	ch1 := r.Join("conn-1", "session-a")
	ch2 := r.Join("conn-2", "session-a")

	r.Broadcast("session-a", makeEvent("hello"))

	for _, ch := range []<-chan *protocol.Event{ch1, ch2} {
		recvOrFail(t, ch)
		select {
		case extra := <-ch:
			t.Fatalf("unexpected duplicate event: %v", extra.Type)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestRegistry_RoomsAreIsolated(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	chA := r.Join("conn-1", "session-a")
	chB := r.Join("conn-2", "session-b")

	r.Broadcast("session-a", makeEvent("for a"))

	recvOrFail(t, chA)
	select {
	case event := <-chB:
		t.Fatalf("session-b member received foreign event: %v", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_JoinMovesMembership(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	old := r.Join("conn-1", "session-a")
	r.Join("conn-1", "session-b")

	// Prior channel is closed by the move
	_, open := <-old
	assert.False(t, open, "old room channel should be closed")

	sessionID, bound := r.MemberSession("conn-1")
	require.True(t, bound)
	assert.Equal(t, "session-b", sessionID)

	// Broadcasts to the old room no longer reach the connection
	r.Broadcast("session-a", makeEvent("stale"))
}

func TestRegistry_BroadcastToEmptyRoomIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	// Must not panic or block
	r.Broadcast("session-empty", makeEvent("nobody home"))
}

func TestRegistry_LeaveRemovesMembership(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	ch := r.Join("conn-1", "session-a")
	r.Leave("conn-1")

	_, open := <-ch
	assert.False(t, open, "channel should be closed on leave")

	_, bound := r.MemberSession("conn-1")
	assert.False(t, bound)

	// Leave of an unknown connection is safe
	r.Leave("conn-never-joined")
}

func TestRegistry_BroadcastSurvivesMembershipChurn(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	const session = "session-a"

	stop := make(chan struct{})
	var broadcasters sync.WaitGroup
	for i := 0; i < 4; i++ {
		broadcasters.Add(1)
		go func() {
			defer broadcasters.Done()
			for {
				select {
				case <-stop:
					return
				default:
					r.Broadcast(session, makeEvent("churn"))
				}
			}
		}()
	}

	// Connections join and leave the room while broadcasts are in flight.
	// A send must never land on a channel the leave has already closed.
	var churners sync.WaitGroup
	for i := 0; i < 4; i++ {
		churners.Add(1)
		go func(id int) {
			defer churners.Done()
			connID := fmt.Sprintf("conn-%d", id)
			for j := 0; j < 500; j++ {
				ch := r.Join(connID, session)
				go func() {
					for range ch {
					}
				}()
				r.Leave(connID)
			}
		}(i)
	}

	churners.Wait()
	close(stop)
	broadcasters.Wait()
}

func TestRegistry_BroadcastOrderWithinSession(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	ch := r.Join("conn-1", "session-a")

	for i := 0; i < 10; i++ {
		r.Broadcast("session-a", makeEvent(string(rune('a'+i))))
	}

	for i := 0; i < 10; i++ {
		event := recvOrFail(t, ch)
		payload, ok := event.Payload.(*protocol.MessagePayload)
		require.True(t, ok)
		assert.Equal(t, string(rune('a'+i)), payload.Message.Text, "event %d out of order", i)
	}
}
