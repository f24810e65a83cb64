package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"smc-structure-engine/internal/alerts"
)

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsAlert is the stream frame. dropped is non-zero when the subscriber fell
// behind and older alerts were discarded before this one.
type wsAlert struct {
	Alert   alerts.Alert `json:"alert"`
	Dropped int          `json:"dropped,omitempty"`
}

// handleAlertStream upgrades the connection and forwards live alerts until
// the client goes away or the bus closes. Query parameters symbols and
// types (comma-separated) narrow the stream.
func (s *Server) handleAlertStream(c *gin.Context) {
	filter := alerts.Filter{}
	if v := c.Query("symbols"); v != "" {
		filter.Symbols = splitList(v)
	}
	if v := c.Query("types"); v != "" {
		for _, t := range splitList(v) {
			filter.Types = append(filter.Types, alerts.Type(t))
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.internalError(c, err)
		return
	}

	deliveries, cancel := s.bus.Subscribe(filter)

	go s.writePump(conn, deliveries, cancel)
	go s.readPump(conn, cancel)
}

// writePump pushes deliveries and pings; any write error tears the
// connection down.
func (s *Server) writePump(conn *websocket.Conn, deliveries <-chan alerts.Delivery, cancel func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case delivery, ok := <-deliveries:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			frame := wsAlert{Alert: delivery.Alert, Dropped: delivery.Dropped}
			if err := conn.WriteJSON(frame); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; it exists to notice disconnects and
// answer pongs.
func (s *Server) readPump(conn *websocket.Conn, cancel func()) {
	defer func() {
		cancel()
		conn.Close()
	}()

	conn.SetReadLimit(512)
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
}
