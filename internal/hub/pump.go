package hub

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// readPump owns the socket's read side. Every inbound frame, control frames
// included, resets the idle deadline: a client that only answers keepalive
// pings is quiet but alive. A connection silent for the full idle timeout is
// reaped by the deadline failing the next read.
func (s *Server) readPump(c *Client) {
	defer monitoring.RecoverPanic(s.logger, "read_pump", map[string]any{"conn_id": c.id})
	defer s.disconnect(c, "read_closed")

	idle := s.config.IdleTimeout
	c.conn.SetReadDeadline(time.Now().Add(idle))

	controlHandler := wsutil.ControlFrameHandler(c.conn, ws.StateServerSide)
	rd := wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		OnIntermediate: controlHandler,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(idle))
		c.touch()

		if hdr.OpCode.IsControl() {
			// Answers pings and surfaces close frames as an error.
			if err := controlHandler(hdr, &rd); err != nil {
				return
			}
			continue
		}

		if hdr.Length > int64(protocol.MaxPayloadSize+protocol.HeaderSize) {
			if _, err := io.Copy(io.Discard, &rd); err != nil {
				return
			}
			s.sendError(c, protocol.ErrInvalidMessage, "Frame exceeds maximum size")
			continue
		}

		msg, err := io.ReadAll(&rd)
		if err != nil {
			return
		}
		atomic.AddInt64(&s.stats.BytesReceived, int64(len(msg)))
		monitoring.BytesReceived.Add(float64(len(msg)))

		switch hdr.OpCode {
		case ws.OpBinary:
			if !s.frameLimiter.Allow(c.id) {
				s.logger.Warn().
					Int64("conn_id", c.id).
					Str("user_id", c.UserID()).
					Msg("Connection flooding, frame dropped")
				s.sendError(c, protocol.ErrRateLimited, "Too many messages, slow down")
				continue
			}
			s.dispatch(c, msg)

		case ws.OpText:
			// The protocol is binary-only. Reject without closing so a
			// half-migrated client sees the error instead of a silent drop.
			s.sendError(c, protocol.ErrInvalidMessage, "Text frames are not supported, use the binary envelope")
		}
	}
}

// writePump serializes all socket writes: fan-out payloads from the send
// channel plus keepalive pings. The pump closing the socket unblocks the
// read pump, which runs the disconnect path.
func (s *Server) writePump(c *Client) {
	defer monitoring.RecoverPanic(s.logger, "write_pump", map[string]any{"conn_id": c.id})

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				wsutil.WriteServerMessage(c.conn, ws.OpClose,
					ws.NewCloseFrameBody(ws.StatusNormalClosure, "server closing"))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpBinary, message); err != nil {
				s.logger.Debug().
					Int64("conn_id", c.id).
					Err(err).
					Int("message_size", len(message)).
					Msg("Write failed, dropping connection")
				return
			}
			atomic.AddInt64(&s.stats.MessagesSent, 1)
			atomic.AddInt64(&s.stats.BytesSent, int64(len(message)))
			monitoring.MessagesSent.Inc()
			monitoring.BytesSent.Add(float64(len(message)))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
