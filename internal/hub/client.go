package hub

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// sendBufferSize is the per-client outbound queue. At editor traffic rates
// (tens of frames/sec during heavy dragging) 256 slots covers several seconds
// of a stalled reader before drops begin.
const sendBufferSize = 256

// slowClientStrikes is how many consecutive full-buffer drops a client gets
// before the hub disconnects it. One drop can be a network hiccup; three in a
// row means the reader is not draining.
const slowClientStrikes = 3

// Identity is what a connection knows about its user after JoinMatch or
// SubscribeLobbies. Connections start anonymous.
type Identity struct {
	UserID         string
	Username       string
	UserImage      string
	HighlightColor string
}

// Client is one live WebSocket connection: a read pump decoding frames and a
// write pump draining the send queue. Identity and match membership are
// acquired via JoinMatch; one user may hold several connections at once.
type Client struct {
	id   int64
	conn net.Conn

	send      chan []byte
	closeOnce sync.Once

	mu       sync.Mutex
	identity Identity
	matchID  string

	subscribedLobbies int32 // atomic flag

	lastActivity int64 // atomic, unix millis
	connectedAt  time.Time

	sendStrikes int32 // atomic, consecutive full-buffer drops
	slowWarned  int32 // atomic flag, warn once per connection
}

func newClient(id int64, conn net.Conn) *Client {
	now := time.Now()
	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		lastActivity: now.UnixMilli(),
		connectedAt:  now,
	}
}

// touch records inbound activity; any frame resets the idle clock.
func (c *Client) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixMilli())
}

func (c *Client) idleSince() time.Time {
	return time.UnixMilli(atomic.LoadInt64(&c.lastActivity))
}

// setIdentity is called under the join path; zero-value fields of id are
// preserved from a previous join (reconnects may omit the image).
func (c *Client) setIdentity(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id.UserID != "" {
		c.identity.UserID = id.UserID
	}
	if id.Username != "" {
		c.identity.Username = id.Username
	}
	if id.UserImage != "" {
		c.identity.UserImage = id.UserImage
	}
	if id.HighlightColor != "" {
		c.identity.HighlightColor = id.HighlightColor
	}
}

func (c *Client) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.UserID
}

func (c *Client) setMatch(matchID string) {
	c.mu.Lock()
	c.matchID = matchID
	c.mu.Unlock()
}

func (c *Client) MatchID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

// closeConn closes the underlying socket exactly once. The read pump's error
// return then drives the full cleanup path.
func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
