package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/lock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor() (*Monitor, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor(nil, 2.0)
	m.now = clock.Now
	return m, clock
}

func presence(id string, role lock.Role) *PresencePayload {
	return &PresencePayload{Version: 1, Peer: PeerInfo{ID: id, Role: role, HeartbeatSec: 5}}
}

func countEvents(name string) int {
	n := 0
	for _, e := range events.Snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

func TestMonitorConnect(t *testing.T) {
	events.Clear()
	m, _ := newTestMonitor()

	if err := m.HandlePresence(presence("p1", lock.RoleSecurityGuard)); err != nil {
		t.Fatalf("presence: %v", err)
	}
	// Heartbeats do not re-emit connected
	m.HandlePresence(presence("p1", lock.RoleSecurityGuard))

	state := m.GetPeerState("p1")
	if state == nil || !state.Connected {
		t.Fatalf("expected p1 connected, got %+v", state)
	}
	if m.Roster().Holder(lock.RoleSecurityGuard) != "p1" {
		t.Error("expected p1 to hold security_guard")
	}
	if countEvents("peer.connected") != 1 {
		t.Errorf("expected one peer.connected, got %d", countEvents("peer.connected"))
	}
}

func TestMonitorRoleConflict(t *testing.T) {
	events.Clear()
	m, _ := newTestMonitor()
	m.HandlePresence(presence("p1", lock.RoleTechnician))

	err := m.HandlePresence(presence("p2", lock.RoleTechnician))
	if !errors.Is(err, ErrRoleTaken) {
		t.Fatalf("expected ErrRoleTaken, got %v", err)
	}
	if m.GetPeerState("p2") != nil {
		t.Error("conflicting peer should not be tracked")
	}
	if len(m.ConnectedPeers()) != 1 {
		t.Errorf("expected one connected peer, got %d", len(m.ConnectedPeers()))
	}
}

func TestMonitorHeartbeatTimeout(t *testing.T) {
	events.Clear()
	m, clock := newTestMonitor()
	m.HandlePresence(presence("p1", lock.RoleSecurityGuard))

	// Within tolerance (2 x 5s)
	clock.Advance(9 * time.Second)
	m.checkHealth()
	if !m.GetPeerState("p1").Connected {
		t.Fatal("expected p1 still connected")
	}

	clock.Advance(2 * time.Second)
	m.checkHealth()
	if m.GetPeerState("p1").Connected {
		t.Fatal("expected p1 disconnected after timeout")
	}
	if m.Roster().Holder(lock.RoleSecurityGuard) != "" {
		t.Error("expected role released on disconnect")
	}
	if countEvents("peer.disconnected") != 1 {
		t.Errorf("expected one peer.disconnected, got %d", countEvents("peer.disconnected"))
	}

	// Reconnect
	m.HandlePresence(presence("p1", lock.RoleSecurityGuard))
	var reconnect interface{}
	for _, e := range events.Snapshot() {
		if e.Name == "peer.connected" {
			reconnect = e.Fields["reconnect"]
		}
	}
	if reconnect != true {
		t.Errorf("expected reconnect flag on second connect, got %v", reconnect)
	}
}

func TestMonitorLeaving(t *testing.T) {
	events.Clear()
	m, _ := newTestMonitor()
	m.HandlePresence(presence("p1", lock.RoleTechnician))

	leave := presence("p1", lock.RoleTechnician)
	leave.Peer.Leaving = true
	m.HandlePresence(leave)

	if m.GetPeerState("p1").Connected {
		t.Error("expected p1 disconnected after leaving")
	}
	if err := m.HandlePresence(presence("p2", lock.RoleTechnician)); err != nil {
		t.Errorf("expected role free after leave: %v", err)
	}
}

func TestMonitorHandlerRejectsBadPayload(t *testing.T) {
	events.Clear()
	m, _ := newTestMonitor()
	mock := NewMockMQTTClient()
	mock.Subscribe(PresenceTopic("s1"), m.Handler())

	mock.SimulateMessage(PresenceTopic("s1"), []byte(`{"version": 1, "peer": {"id": ""}}`))
	if countEvents("system.error") != 1 {
		t.Errorf("expected system.error for bad presence")
	}

	mock.SimulateMessage(PresenceTopic("s1"), []byte(`{"version": 1, "peer": {"id": "p9", "role": "technician", "heartbeat_sec": 5}}`))
	if m.GetPeerState("p9") == nil {
		t.Error("expected p9 tracked via handler")
	}
}

func TestMonitorStartStop(t *testing.T) {
	m, clock := newTestMonitor()
	m.HandlePresence(presence("p1", lock.RoleSecurityGuard))
	clock.Advance(time.Minute)

	m.Start(5 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for m.GetPeerState("p1").Connected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	if m.GetPeerState("p1").Connected {
		t.Error("expected health loop to disconnect stale peer")
	}
}
