package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientLock/internal/events"
)

// PeerState tracks an announced peer's health.
type PeerState struct {
	PeerID       string
	Role         string
	LastSeen     time.Time
	HeartbeatSec int
	Applied      uint64
	Connected    bool
}

// Monitor tracks peer presence and holds the role roster.
type Monitor struct {
	mu        sync.RWMutex
	peers     map[string]*PeerState
	roster    *Roster
	tolerance float64 // multiplier for heartbeat interval (e.g., 2.0 = 2x heartbeat)
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a new peer monitor.
// tolerance is the multiplier for heartbeat interval before considering disconnected.
func NewMonitor(roster *Roster, tolerance float64) *Monitor {
	if tolerance <= 1.0 {
		tolerance = 2.0 // default: miss 1 heartbeat
	}
	if roster == nil {
		roster = NewRoster()
	}
	return &Monitor{
		peers:     make(map[string]*PeerState),
		roster:    roster,
		tolerance: tolerance,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Roster returns the role roster.
func (m *Monitor) Roster() *Roster {
	return m.roster
}

// Handler returns the presence topic message handler.
func (m *Monitor) Handler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		payload, err := ParsePresence(msg.Payload())
		if err != nil {
			events.Emit("error", "system.error", "invalid presence message", map[string]interface{}{
				"topic": msg.Topic(),
				"error": err.Error(),
			})
			return
		}
		m.HandlePresence(payload)
	}
}

// HandlePresence processes an announcement or heartbeat. It returns
// ErrRoleTaken if another connected peer holds the announced role.
func (m *Monitor) HandlePresence(payload *PresencePayload) error {
	info := payload.Peer

	m.mu.Lock()
	defer m.mu.Unlock()

	if info.Leaving {
		m.disconnect(info.ID, "leaving")
		return nil
	}

	if err := m.roster.Claim(info.Role, info.ID); err != nil {
		events.Emit("warn", "system.error", "role already held", map[string]interface{}{
			"peer_id": info.ID,
			"role":    string(info.Role),
			"holder":  m.roster.Holder(info.Role),
		})
		return err
	}

	existing, known := m.peers[info.ID]
	wasConnected := known && existing.Connected

	m.peers[info.ID] = &PeerState{
		PeerID:       info.ID,
		Role:         string(info.Role),
		LastSeen:     m.now(),
		HeartbeatSec: info.HeartbeatSec,
		Applied:      info.Applied,
		Connected:    true,
	}

	if !wasConnected {
		events.Emit("info", "peer.connected", "", map[string]interface{}{
			"peer_id":   info.ID,
			"role":      string(info.Role),
			"applied":   info.Applied,
			"reconnect": known,
		})
	}
	return nil
}

// disconnect must be called with m.mu held.
func (m *Monitor) disconnect(peerID, reason string) {
	state, ok := m.peers[peerID]
	if !ok || !state.Connected {
		return
	}
	state.Connected = false
	m.roster.Release(peerID)

	events.Emit("warn", "peer.disconnected", reason, map[string]interface{}{
		"peer_id":   peerID,
		"role":      state.Role,
		"last_seen": state.LastSeen.Format(time.RFC3339),
	})
}

// Start begins the background health check loop.
func (m *Monitor) Start(checkInterval time.Duration) {
	m.wg.Add(1)
	go m.healthCheckLoop(checkInterval)
}

// Stop stops the background health check loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) healthCheckLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Monitor) checkHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	for peerID, state := range m.peers {
		if !state.Connected {
			continue
		}

		// Calculate timeout: heartbeat * tolerance
		timeout := time.Duration(float64(state.HeartbeatSec)*m.tolerance) * time.Second
		if now.Sub(state.LastSeen) > timeout {
			m.disconnect(peerID, "heartbeat timeout")
		}
	}
}

// GetPeerState returns the state of a peer (for testing/inspection).
func (m *Monitor) GetPeerState(peerID string) *PeerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.peers[peerID]; ok {
		cpy := *state
		return &cpy
	}
	return nil
}

// ConnectedPeers returns copies of the currently connected peers.
func (m *Monitor) ConnectedPeers() []PeerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PeerState
	for _, state := range m.peers {
		if state.Connected {
			out = append(out, *state)
		}
	}
	return out
}
