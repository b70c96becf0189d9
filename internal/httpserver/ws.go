package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	minWSPeriod = 500 * time.Millisecond
	wsWriteWait = 5 * time.Second
)

// wsPeriod never pushes faster than minWSPeriod, whatever the sample rate.
func wsPeriod(sampleInterval time.Duration) time.Duration {
	return max(sampleInterval, minWSPeriod)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// snapshot is one /ws/adc frame.
type snapshot struct {
	Channels []channelReading `json:"channels"`
	Logging  bool             `json:"logging"`
	LogFile  string           `json:"log_file"`
}

// handleWS pushes a snapshot every wsPeriod until the client goes away or
// the request context ends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(ctx, "websocket upgrade", "err", err)
		return
	}
	defer conn.Close()
	s.metrics.WSConnected()
	defer s.metrics.WSDisconnected()

	// Client frames are ignored; reading only notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	t := time.NewTicker(s.wsPeriod)
	defer t.Stop()
	for {
		if err := s.push(conn); err != nil {
			s.log.Debug(ctx, "websocket push stopped", "err", err)
			return
		}
		select {
		case <-gone:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsWriteWait))
			return
		case <-t.C:
		}
	}
}

func (s *Server) push(conn *websocket.Conn) error {
	b, err := json.Marshal(snapshot{
		Channels: s.readings(),
		Logging:  s.state.LoggingStatus(),
		LogFile:  s.state.CurrentLogFile(),
	})
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
