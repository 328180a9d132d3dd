// Package bus bridges backend NATS subjects into the hub. It is an optional
// alternative to the HTTP notify endpoints for deployments already running
// NATS: the app publishes change events and every hub instance picks them up,
// which is what makes multi-instance fan-out consistent.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	// SubjectLobbies carries "the lobby list changed" pings, empty payload.
	SubjectLobbies = "editmash.lobbies.updated"

	// SubjectMatchStatus carries match status transitions.
	SubjectMatchStatus = "editmash.match.status"
)

// MatchStatusEvent is the payload on SubjectMatchStatus.
type MatchStatusEvent struct {
	MatchID       string `json:"matchId"`
	Status        string `json:"status"`
	TimeRemaining *int64 `json:"timeRemaining,omitempty"`
}

// Notifier receives bridged events. The hub implements this.
type Notifier interface {
	LobbiesChanged()
	MatchStatusChanged(matchID, status string, timeRemaining *int64)
}

// Bridge is a live NATS subscription pair feeding a Notifier.
type Bridge struct {
	nc     *nats.Conn
	subs   []*nats.Subscription
	logger zerolog.Logger
}

// Connect dials NATS and subscribes both subjects. Reconnection is delegated
// to the client's built-in retry; events missed while disconnected are lost,
// which is acceptable because every event is a "go re-fetch" hint rather
// than state.
func Connect(url string, n Notifier, logger zerolog.Logger) (*Bridge, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	b := &Bridge{nc: nc, logger: logger.With().Str("component", "bus").Logger()}

	lobbySub, err := nc.Subscribe(SubjectLobbies, func(_ *nats.Msg) {
		n.LobbiesChanged()
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", SubjectLobbies, err)
	}
	b.subs = append(b.subs, lobbySub)

	statusSub, err := nc.Subscribe(SubjectMatchStatus, func(msg *nats.Msg) {
		var ev MatchStatusEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.MatchID == "" {
			b.logger.Warn().Err(err).Msg("Malformed match status event, dropped")
			return
		}
		n.MatchStatusChanged(ev.MatchID, ev.Status, ev.TimeRemaining)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", SubjectMatchStatus, err)
	}
	b.subs = append(b.subs, statusSub)

	b.logger.Info().Str("url", url).Msg("Bus bridge connected")
	return b, nil
}

// Close drains the subscriptions and closes the connection.
func (b *Bridge) Close() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.nc.Close()
}
