package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/events"
)

const (
	// Number of recent events to send on connection
	recentEventsCount = 50

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// readPump drains client frames so pongs and close messages are handled.
// The returned channel is closed when the connection goes away.
func readPump(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func writeFrame(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func writePing(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// eventFilter reads ?prefix=lock.,peer. into a name filter.
func eventFilter(r *http.Request) events.Filter {
	raw := r.URL.Query().Get("prefix")
	if raw == "" {
		return nil
	}
	var prefixes []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return events.NamePrefix(prefixes...)
}

// wsEventsHandler streams live events, starting with the most recent ones.
// ?prefix= limits both to matching event names.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	filter := eventFilter(r)
	sub := events.Subscribe(filter)
	defer events.Unsubscribe(sub)

	for _, e := range events.RecentEvents(recentEventsCount, filter) {
		if err := writeFrame(conn, e); err != nil {
			return
		}
	}

	done := readPump(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeFrame(conn, e); err != nil {
				return
			}

		case <-ticker.C:
			if err := writePing(conn); err != nil {
				return
			}
		}
	}
}

// wsLogHandler streams log entries from ?from=N onward, one JSON entry per
// frame, in seq order. The stream is closed when the log closes.
func (s *Server) wsLogHandler(w http.ResponseWriter, r *http.Request) {
	from, err := parseFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := s.host.Log().Subscribe(from)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	done := readPump(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case e, ok := <-sub.C():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, channel.ErrClosed.Error()))
				return
			}
			if err := writeFrame(conn, e); err != nil {
				s.logger.Debugw("ws write entry failed", "seq", e.Seq, "error", err)
				return
			}

		case <-ticker.C:
			if err := writePing(conn); err != nil {
				return
			}
		}
	}
}
