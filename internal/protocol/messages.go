package protocol

import (
	"encoding/json"

	"github.com/editmash/hub/internal/timeline"
)

// MsgType is the wire discriminant for the envelope. Values are part of the
// client contract and must never be renumbered.
type MsgType uint8

const (
	MsgPing MsgType = iota + 1
	MsgPong
	MsgSubscribeLobbies
	MsgUnsubscribeLobbies
	MsgLobbiesUpdate
	MsgJoinMatch
	MsgLeaveMatch
	MsgPlayerCount
	MsgPlayerJoined
	MsgPlayerLeft
	MsgMediaUploaded
	MsgMediaRemoved
	MsgClipAdded
	MsgClipUpdated
	MsgClipRemoved
	MsgClipSplit
	MsgClipBatchUpdate
	MsgClipIDMapping
	MsgZoneSubscribe
	MsgZoneClips
	MsgClipSelection
	MsgTimelineSync
	MsgRequestTimelineSync
	MsgChatMessage
	MsgChatBroadcast
	MsgMatchStatus
	MsgError
)

// typeNames is the schema registry: a type byte is valid iff it is listed
// here. Names show up in logs and decode errors.
var typeNames = map[MsgType]string{
	MsgPing:                "Ping",
	MsgPong:                "Pong",
	MsgSubscribeLobbies:    "SubscribeLobbies",
	MsgUnsubscribeLobbies:  "UnsubscribeLobbies",
	MsgLobbiesUpdate:       "LobbiesUpdate",
	MsgJoinMatch:           "JoinMatch",
	MsgLeaveMatch:          "LeaveMatch",
	MsgPlayerCount:         "PlayerCount",
	MsgPlayerJoined:        "PlayerJoined",
	MsgPlayerLeft:          "PlayerLeft",
	MsgMediaUploaded:       "MediaUploaded",
	MsgMediaRemoved:        "MediaRemoved",
	MsgClipAdded:           "ClipAdded",
	MsgClipUpdated:         "ClipUpdated",
	MsgClipRemoved:         "ClipRemoved",
	MsgClipSplit:           "ClipSplit",
	MsgClipBatchUpdate:     "ClipBatchUpdate",
	MsgClipIDMapping:       "ClipIdMapping",
	MsgZoneSubscribe:       "ZoneSubscribe",
	MsgZoneClips:           "ZoneClips",
	MsgClipSelection:       "ClipSelection",
	MsgTimelineSync:        "TimelineSync",
	MsgRequestTimelineSync: "RequestTimelineSync",
	MsgChatMessage:         "ChatMessage",
	MsgChatBroadcast:       "ChatBroadcast",
	MsgMatchStatus:         "MatchStatus",
	MsgError:               "Error",
}

// String returns the registered name, or "Unknown(n)" for unregistered bytes.
func (t MsgType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown(" + itoa(uint8(t)) + ")"
}

// Registered reports whether the type byte is in the schema registry.
func (t MsgType) Registered() bool {
	_, ok := typeNames[t]
	return ok
}

func itoa(v uint8) string {
	if v == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = '0' + v%10
		v /= 10
	}
	return string(buf[i:])
}

// Error codes reported to offending connections.
const (
	ErrNotInMatch          = "NOT_IN_MATCH"
	ErrNotAuthenticated    = "NOT_AUTHENTICATED"
	ErrTrackTypeMismatch   = "TRACK_TYPE_MISMATCH"
	ErrConstraintViolation = "CONSTRAINT_VIOLATION"
	ErrInvalidMessage      = "INVALID_MESSAGE"
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrRateLimited         = "RATE_LIMITED"
	ErrVoteKicked          = "VOTE_KICKED"
)

type JoinMatch struct {
	MatchID        string `json:"matchId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	UserImage      string `json:"userImage,omitempty"`
	HighlightColor string `json:"highlightColor,omitempty"`
}

type LeaveMatch struct {
	MatchID string `json:"matchId"`
	UserID  string `json:"userId"`
}

type PlayerCount struct {
	MatchID string `json:"matchId"`
	Count   int    `json:"count"`
}

type PlayerJoined struct {
	MatchID        string `json:"matchId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	UserImage      string `json:"userImage,omitempty"`
	HighlightColor string `json:"highlightColor,omitempty"`
	PlayerCount    int    `json:"playerCount"`
}

type PlayerLeft struct {
	MatchID     string `json:"matchId"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	PlayerCount int    `json:"playerCount"`
}

// MediaUploaded and MediaRemoved are opaque relays: the hub validates nothing
// and forwards the payload to the other room members.
type MediaUploaded struct {
	MatchID string          `json:"matchId"`
	Media   json.RawMessage `json:"media"`
}

type MediaRemoved struct {
	MatchID string `json:"matchId"`
	MediaID string `json:"mediaId"`
}

type ClipAdded struct {
	MatchID string        `json:"matchId"`
	TrackID string        `json:"trackId"`
	Clip    timeline.Clip `json:"clip"`
	AddedBy string        `json:"addedBy"`
}

type ClipUpdated struct {
	MatchID   string              `json:"matchId"`
	TrackID   string              `json:"trackId"`
	ClipID    string              `json:"clipId"`
	Updates   timeline.ClipUpdate `json:"updates"`
	UpdatedBy string              `json:"updatedBy"`
}

type ClipRemoved struct {
	MatchID   string `json:"matchId"`
	TrackID   string `json:"trackId"`
	ClipID    string `json:"clipId"`
	RemovedBy string `json:"removedBy"`
}

type ClipSplit struct {
	MatchID      string        `json:"matchId"`
	TrackID      string        `json:"trackId"`
	OriginalClip timeline.Clip `json:"originalClip"`
	NewClip      timeline.Clip `json:"newClip"`
	SplitBy      string        `json:"splitBy"`
}

// ClipDelta addresses a clip by its server-minted short id. Nil fields were
// not sent.
type ClipDelta struct {
	ShortID    uint32                   `json:"shortId"`
	StartTime  *float64                 `json:"startTime,omitempty"`
	Duration   *float64                 `json:"duration,omitempty"`
	SourceIn   *float64                 `json:"sourceIn,omitempty"`
	Properties *timeline.ClipProperties `json:"properties,omitempty"`
	NewTrackID string                   `json:"newTrackId,omitempty"`
}

type ClipBatchUpdate struct {
	MatchID   string      `json:"matchId"`
	Updates   []ClipDelta `json:"updates"`
	UpdatedBy string      `json:"updatedBy"`
}

type IDMapping struct {
	ShortID uint32            `json:"shortId"`
	FullID  string            `json:"fullId"`
	TrackID string            `json:"trackId"`
	Kind    timeline.ClipKind `json:"kind"`
}

type ClipIDMapping struct {
	MatchID  string      `json:"matchId"`
	Mappings []IDMapping `json:"mappings"`
}

type ZoneSubscribe struct {
	MatchID   string  `json:"matchId"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

type ZoneClips struct {
	MatchID   string           `json:"matchId"`
	StartTime float64          `json:"startTime"`
	EndTime   float64          `json:"endTime"`
	Tracks    []timeline.Track `json:"tracks"`
}

// ClipSelection is an opaque relay for live selection highlights.
type ClipSelection struct {
	MatchID        string   `json:"matchId"`
	UserID         string   `json:"userId"`
	Username       string   `json:"username"`
	UserImage      string   `json:"userImage,omitempty"`
	HighlightColor string   `json:"highlightColor,omitempty"`
	SelectedClips  []string `json:"selectedClips"`
}

type TimelineSync struct {
	MatchID  string            `json:"matchId"`
	Timeline timeline.Timeline `json:"timeline"`
}

type RequestTimelineSync struct {
	MatchID string `json:"matchId"`
}

type ChatMessage struct {
	MatchID string `json:"matchId"`
	Message string `json:"message"`
}

type ChatBroadcast struct {
	MatchID        string `json:"matchId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	UserImage      string `json:"userImage,omitempty"`
	HighlightColor string `json:"highlightColor,omitempty"`
	Message        string `json:"message"`
	Timestamp      int64  `json:"timestamp"`
}

type MatchStatus struct {
	MatchID       string `json:"matchId"`
	Status        string `json:"status"`
	TimeRemaining *int64 `json:"timeRemaining,omitempty"`
	PlayerCount   int    `json:"playerCount"`
}

type LobbiesUpdate struct {
	Lobbies json.RawMessage `json:"lobbies"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
