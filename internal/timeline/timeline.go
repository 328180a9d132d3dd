package timeline

import "fmt"

// ClipKind identifies the media type of a clip. Image clips are placed on
// video tracks.
type ClipKind string

const (
	ClipVideo ClipKind = "video"
	ClipImage ClipKind = "image"
	ClipAudio ClipKind = "audio"
)

// TrackType identifies the lane type. Tracks are predefined at match creation
// and never added or removed during a match.
type TrackType string

const (
	TrackVideo TrackType = "video"
	TrackAudio TrackType = "audio"
)

// Accepts reports whether a clip of kind k may be placed on this track type.
func (t TrackType) Accepts(k ClipKind) bool {
	switch t {
	case TrackVideo:
		return k == ClipVideo || k == ClipImage
	case TrackAudio:
		return k == ClipAudio
	}
	return false
}

// Zoom is the visual zoom state. Linked means x and y scale together.
type Zoom struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Linked bool    `json:"linked"`
}

// Crop is expressed as fractions cut from each edge.
type Crop struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// ClipProperties is the flat kind-dependent property bag. All fields are
// pointers so that partial updates can distinguish "not sent" from zero.
// Visual clips use the layout/transform fields; audio clips use volume, pan,
// pitch and speed.
type ClipProperties struct {
	X               *float64 `json:"x,omitempty"`
	Y               *float64 `json:"y,omitempty"`
	Width           *float64 `json:"width,omitempty"`
	Height          *float64 `json:"height,omitempty"`
	Zoom            *Zoom    `json:"zoom,omitempty"`
	Rotation        *float64 `json:"rotation,omitempty"`
	FlipH           *bool    `json:"flipH,omitempty"`
	FlipV           *bool    `json:"flipV,omitempty"`
	Crop            *Crop    `json:"crop,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
	FreezeFrame     *bool    `json:"freezeFrame,omitempty"`
	FreezeFrameTime *float64 `json:"freezeFrameTime,omitempty"`

	Volume *float64 `json:"volume,omitempty"` // linear gain, >= 0
	Pan    *float64 `json:"pan,omitempty"`    // -1..1
	Pitch  *float64 `json:"pitch,omitempty"`  // semitones
}

// Merge deep-merges in into p: every field present in in overwrites the
// corresponding field of p, absent fields are left untouched.
func (p *ClipProperties) Merge(in ClipProperties) {
	if in.X != nil {
		p.X = in.X
	}
	if in.Y != nil {
		p.Y = in.Y
	}
	if in.Width != nil {
		p.Width = in.Width
	}
	if in.Height != nil {
		p.Height = in.Height
	}
	if in.Zoom != nil {
		z := *in.Zoom
		p.Zoom = &z
	}
	if in.Rotation != nil {
		p.Rotation = in.Rotation
	}
	if in.FlipH != nil {
		p.FlipH = in.FlipH
	}
	if in.FlipV != nil {
		p.FlipV = in.FlipV
	}
	if in.Crop != nil {
		c := *in.Crop
		p.Crop = &c
	}
	if in.Speed != nil {
		p.Speed = in.Speed
	}
	if in.FreezeFrame != nil {
		p.FreezeFrame = in.FreezeFrame
	}
	if in.FreezeFrameTime != nil {
		p.FreezeFrameTime = in.FreezeFrameTime
	}
	if in.Volume != nil {
		p.Volume = in.Volume
	}
	if in.Pan != nil {
		p.Pan = in.Pan
	}
	if in.Pitch != nil {
		p.Pitch = in.Pitch
	}
}

// Clip is a placed span of media on a timeline track. The id is
// client-generated and opaque to the server.
type Clip struct {
	ID             string         `json:"id"`
	Kind           ClipKind       `json:"kind"`
	StartTime      float64        `json:"startTime"`
	Duration       float64        `json:"duration"`
	SourceIn       float64        `json:"sourceIn"`
	SourceDuration float64        `json:"sourceDuration"`
	Src            string         `json:"src"`
	Name           string         `json:"name"`
	Thumbnail      string         `json:"thumbnail,omitempty"`
	Properties     ClipProperties `json:"properties"`
}

// End returns the exclusive end time of the clip on the match timeline.
func (c *Clip) End() float64 {
	return c.StartTime + c.Duration
}

// Intersects reports whether the clip's extent overlaps [start, end].
func (c *Clip) Intersects(start, end float64) bool {
	return c.StartTime <= end && c.End() >= start
}

// ClipUpdate is a partial clip change. Nil fields were not sent.
type ClipUpdate struct {
	StartTime      *float64        `json:"startTime,omitempty"`
	Duration       *float64        `json:"duration,omitempty"`
	SourceIn       *float64        `json:"sourceIn,omitempty"`
	SourceDuration *float64        `json:"sourceDuration,omitempty"`
	Src            *string         `json:"src,omitempty"`
	Name           *string         `json:"name,omitempty"`
	Thumbnail      *string         `json:"thumbnail,omitempty"`
	Properties     *ClipProperties `json:"properties,omitempty"`
}

// Apply merges the update into the clip. Properties are deep-merged.
func (u ClipUpdate) Apply(c *Clip) {
	if u.StartTime != nil {
		c.StartTime = *u.StartTime
	}
	if u.Duration != nil {
		c.Duration = *u.Duration
	}
	if u.SourceIn != nil {
		c.SourceIn = *u.SourceIn
	}
	if u.SourceDuration != nil {
		c.SourceDuration = *u.SourceDuration
	}
	if u.Src != nil {
		c.Src = *u.Src
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Thumbnail != nil {
		c.Thumbnail = *u.Thumbnail
	}
	if u.Properties != nil {
		c.Properties.Merge(*u.Properties)
	}
}

// Track is an ordered per-type lane within a timeline.
type Track struct {
	ID    string    `json:"id"`
	Type  TrackType `json:"type"`
	Clips []Clip    `json:"clips"`
}

// Timeline is the full fixed-duration composition.
type Timeline struct {
	Duration float64 `json:"duration"`
	Tracks   []Track `json:"tracks"`
}

// NewTimeline builds a timeline with the predefined track layout: video-0..N-1
// followed by audio-0..M-1.
func NewTimeline(duration float64, videoTracks, audioTracks int) Timeline {
	tl := Timeline{
		Duration: duration,
		Tracks:   make([]Track, 0, videoTracks+audioTracks),
	}
	for i := 0; i < videoTracks; i++ {
		tl.Tracks = append(tl.Tracks, Track{ID: fmt.Sprintf("video-%d", i), Type: TrackVideo, Clips: []Clip{}})
	}
	for i := 0; i < audioTracks; i++ {
		tl.Tracks = append(tl.Tracks, Track{ID: fmt.Sprintf("audio-%d", i), Type: TrackAudio, Clips: []Clip{}})
	}
	return tl
}
