package hub

import (
	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/protocol"
)

// dispatch routes one decoded frame. Runs on the connection's read pump.
func (s *Server) dispatch(c *Client, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, "Malformed frame: "+err.Error())
		return
	}
	c.touch()
	monitoring.MessagesReceived.Inc()

	switch env.Type {
	case protocol.MsgPing:
		s.sendMessage(c, protocol.MsgPong, nil)

	case protocol.MsgSubscribeLobbies:
		s.handleSubscribeLobbies(c)

	case protocol.MsgUnsubscribeLobbies:
		s.handleUnsubscribeLobbies(c)

	case protocol.MsgJoinMatch:
		req, err := protocol.Payload[protocol.JoinMatch](env)
		if err != nil {
			s.sendError(c, protocol.ErrInvalidPayload, err.Error())
			return
		}
		if req.MatchID == "" || req.UserID == "" {
			s.sendError(c, protocol.ErrInvalidPayload, "matchId and userId are required")
			return
		}
		s.room(req.MatchID, true).join(c, req)

	case protocol.MsgLeaveMatch:
		if r := s.roomOf(c); r != nil {
			r.leave(c, false)
		}

	case protocol.MsgMediaUploaded:
		relay(s, c, env, func(r *Room, msg protocol.MediaUploaded) {
			r.relayToOthers(c, protocol.MsgMediaUploaded, msg)
		})

	case protocol.MsgMediaRemoved:
		relay(s, c, env, func(r *Room, msg protocol.MediaRemoved) {
			r.relayToOthers(c, protocol.MsgMediaRemoved, msg)
		})

	case protocol.MsgClipSelection:
		relay(s, c, env, func(r *Room, msg protocol.ClipSelection) {
			r.relayToOthers(c, protocol.MsgClipSelection, msg)
		})

	case protocol.MsgClipAdded:
		relay(s, c, env, func(r *Room, msg protocol.ClipAdded) { r.handleClipAdded(c, msg) })

	case protocol.MsgClipUpdated:
		relay(s, c, env, func(r *Room, msg protocol.ClipUpdated) { r.handleClipUpdated(c, msg) })

	case protocol.MsgClipRemoved:
		relay(s, c, env, func(r *Room, msg protocol.ClipRemoved) { r.handleClipRemoved(c, msg) })

	case protocol.MsgClipSplit:
		relay(s, c, env, func(r *Room, msg protocol.ClipSplit) { r.handleClipSplit(c, msg) })

	case protocol.MsgClipBatchUpdate:
		relay(s, c, env, func(r *Room, msg protocol.ClipBatchUpdate) { r.handleClipBatchUpdate(c, msg) })

	case protocol.MsgZoneSubscribe:
		relay(s, c, env, func(r *Room, msg protocol.ZoneSubscribe) { r.handleZoneSubscribe(c, msg) })

	case protocol.MsgTimelineSync:
		relay(s, c, env, func(r *Room, msg protocol.TimelineSync) { r.handleTimelineSync(c, msg) })

	case protocol.MsgChatMessage:
		relay(s, c, env, func(r *Room, msg protocol.ChatMessage) { r.handleChatMessage(c, msg) })

	default:
		// Registered but server-to-client only, or an unregistered byte the
		// decoder let through. Either way the client is misbehaving.
		s.sendError(c, protocol.ErrInvalidMessage, "Clients may not send "+env.Type.String())
	}
}

// relay decodes the payload and hands it to the client's current room. The
// room lookup goes through the connection's bound match so clients cannot
// inject into rooms they never joined.
func relay[T any](s *Server, c *Client, env protocol.Envelope, fn func(*Room, T)) {
	msg, err := protocol.Payload[T](env)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidPayload, err.Error())
		return
	}
	r := s.roomOf(c)
	if r == nil {
		s.sendError(c, protocol.ErrNotInMatch, "You are not in a match")
		return
	}
	fn(r, msg)
}
