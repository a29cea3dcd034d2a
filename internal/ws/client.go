package ws

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"codesession/internal/engine"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 20
)

// client owns one WebSocket connection: the read pump turns frames into
// intents, the write pump drains the engine subscription. The two pumps are
// the only goroutines that touch the connection.
type client struct {
	engine        *engine.Engine
	conn          *websocket.Conn
	sub           *engine.Subscription
	sessionID     string
	participantID string

	// outbound carries frames originated by the read pump (errors, resync
	// results) to the single writer.
	outbound chan []byte
}

func newClient(eng *engine.Engine, conn *websocket.Conn, sub *engine.Subscription, sessionID, participantID string) *client {
	return &client{
		engine:        eng,
		conn:          conn,
		sub:           sub,
		sessionID:     sessionID,
		participantID: participantID,
		outbound:      make(chan []byte, 16),
	}
}

// start runs the write pump in the background and the read pump on the
// calling goroutine, returning when the connection is gone.
func (c *client) start(snap engine.Snapshot) {
	go c.writePump(snap)
	c.readPump()
}

func (c *client) readPump() {
	// A clean close is a deliberate leave and releases held locks; an
	// abnormal drop keeps them through the disconnect grace period.
	deliberate := false
	defer func() {
		close(c.outbound)
		_ = c.conn.Close()
		// Scoped to this connection's subscription: if a newer connection has
		// replaced this one, its seat stays untouched.
		if deliberate {
			_ = c.engine.Leave(c.sessionID, c.participantID, c.sub)
		} else {
			_ = c.engine.Disconnect(c.sessionID, c.participantID, c.sub)
		}
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				deliberate = true
			} else if websocket.IsUnexpectedCloseError(err) {
				log.Printf("ws: session %s participant %s read error: %v", c.sessionID, c.participantID, err)
			}
			return
		}

		intent, err := engine.DecodeIntent(data)
		if err != nil {
			c.sendError("VALIDATION_ERROR", err.Error(), nil)
			continue
		}

		ev, err := c.engine.Dispatch(c.sessionID, c.participantID, intent)
		if err != nil {
			c.dispatchError(intent, err)
			if engine.IsCode(err, engine.CodeSessionClosed) || engine.IsCode(err, engine.CodeSessionNotFound) {
				return
			}
			continue
		}
		// Resync results are private to the requester and never broadcast, so
		// the subscription will not carry them.
		if ev != nil && ev.Kind() == engine.EventResyncResult {
			c.sendEvent(ev)
		}
	}
}

// dispatchError renders an engine error back to the client. A stale change
// proposal becomes a change_rejected frame carrying the authoritative state;
// everything else is a generic error frame.
func (c *client) dispatchError(intent engine.Intent, err error) {
	var engineErr *engine.Error
	if !errors.As(err, &engineErr) {
		c.sendError("INTERNAL", "internal error", nil)
		return
	}
	if proposal, ok := intent.(*engine.ProposeChange); ok && engineErr.Code == engine.CodeConflict {
		if details, ok := engineErr.Details.(engine.ConflictDetails); ok {
			c.sendEvent(engine.ChangeRejected{
				SessionID:       c.sessionID,
				FileID:          proposal.FileID,
				CurrentRevision: details.CurrentRevision,
				Content:         details.Content,
			})
			return
		}
	}
	c.sendError(string(engineErr.Code), engineErr.Message, engineErr.Details)
}

func (c *client) sendEvent(ev engine.Event) {
	payload, err := engine.EncodeEvent(ev)
	if err != nil {
		log.Printf("ws: encode event %s: %v", ev.Kind(), err)
		return
	}
	c.send(payload)
}

func (c *client) sendError(code, message string, details any) {
	payload, err := json.Marshal(map[string]any{
		"type":    "error",
		"code":    code,
		"error":   message,
		"details": details,
	})
	if err != nil {
		return
	}
	c.send(payload)
}

func (c *client) send(payload []byte) {
	select {
	case c.outbound <- payload:
	default:
		log.Printf("ws: session %s participant %s outbound full, dropping frame", c.sessionID, c.participantID)
	}
}

func (c *client) writePump(snap engine.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	if !c.writeSnapshot(snap) {
		return
	}

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				// Subscription dropped: session closed, replaced connection or
				// slow consumer. Tell the client to go away cleanly.
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription ended"))
				return
			}
			payload, err := engine.EncodeEvent(ev)
			if err != nil {
				log.Printf("ws: encode event %s: %v", ev.Kind(), err)
				continue
			}
			if !c.writeFrame(payload) {
				return
			}
		case payload, ok := <-c.outbound:
			if !ok {
				return
			}
			if !c.writeFrame(payload) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeSnapshot sends the join snapshot as the first frame so the client has
// a consistent baseline before any incremental event arrives.
func (c *client) writeSnapshot(snap engine.Snapshot) bool {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		engine.Snapshot
	}{Type: "snapshot", Snapshot: snap})
	if err != nil {
		log.Printf("ws: encode snapshot for session %s: %v", c.sessionID, err)
		return false
	}
	return c.writeFrame(payload)
}

func (c *client) writeFrame(payload []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return false
	}
	return true
}
