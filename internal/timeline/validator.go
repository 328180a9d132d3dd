package timeline

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Config is the per-match ruleset fetched from the EditMash app. The hub only
// reads it; authorship lives in the external store.
type Config struct {
	MatchID          string   `json:"id"`
	Status           string   `json:"status"`
	TimelineDuration float64  `json:"timelineDuration"`
	ClipSizeMin      float64  `json:"clipSizeMin"`
	ClipSizeMax      float64  `json:"clipSizeMax"`
	AudioMaxDb       float64  `json:"audioMaxDb"`
	MaxVideoTracks   int      `json:"maxVideoTracks"`
	MaxAudioTracks   int      `json:"maxAudioTracks"`
	MaxClipsPerUser  int      `json:"maxClipsPerUser"`
	Constraints      []string `json:"constraints"`
}

// Result is the validator verdict. Reason is a human string suitable for the
// CONSTRAINT_VIOLATION error message.
type Result struct {
	Valid  bool
	Reason string
}

func ok() Result { return Result{Valid: true} }

func fail(format string, a ...any) Result {
	return Result{Valid: false, Reason: fmt.Sprintf(format, a...)}
}

// Input carries one proposed clip state plus the context the rules need.
// Clip holds the post-merge state for updates, or the incoming clip for adds
// and split halves. UserClipCount is the sender's current accepted clip count;
// CountsTowardCap is set for add and split (the only operations that mint a
// new clip).
type Input struct {
	Clip            *Clip
	TrackID         string
	Timeline        *Timeline
	UserClipCount   int
	CountsTowardCap bool
}

// Validate is the pure constraint check: given a config, a proposed clip
// change and the current timeline it returns pass/fail plus a reason. Checks
// run in a fixed order so clients get stable error messages.
func Validate(cfg *Config, in Input, logger zerolog.Logger) Result {
	clip := in.Clip

	// 1. Duration bounds.
	if cfg.ClipSizeMin > 0 && clip.Duration < cfg.ClipSizeMin {
		return fail("clip duration %.3fs is shorter than minimum %.3fs", clip.Duration, cfg.ClipSizeMin)
	}
	if cfg.ClipSizeMax > 0 && clip.Duration > cfg.ClipSizeMax {
		return fail("clip duration %.3fs is longer than maximum %.3fs", clip.Duration, cfg.ClipSizeMax)
	}
	if clip.Duration <= 0 {
		return fail("clip duration must be positive")
	}

	// 2. Timeline bounds.
	if clip.StartTime < 0 {
		return fail("clip start time %.3fs is before the timeline start", clip.StartTime)
	}
	if cfg.TimelineDuration > 0 && clip.End() > cfg.TimelineDuration {
		return fail("clip ends at %.3fs, past the timeline duration %.3fs", clip.End(), cfg.TimelineDuration)
	}

	// 3. Audio level cap: 20*log10(volume) must stay at or under AudioMaxDb.
	if clip.Kind == ClipAudio && clip.Properties.Volume != nil {
		vol := *clip.Properties.Volume
		if vol < 0 {
			return fail("audio volume must not be negative")
		}
		if vol > 0 && cfg.AudioMaxDb != 0 {
			if db := 20 * math.Log10(vol); db > cfg.AudioMaxDb {
				return fail("audio level %.1fdB exceeds the %.1fdB cap", db, cfg.AudioMaxDb)
			}
		}
	}

	// 4. Track count limits. Enforced at match creation by the app; re-checked
	// here against a hostile client inventing track ids.
	if in.Timeline != nil {
		if r := checkTrackCounts(cfg, in.Timeline); !r.Valid {
			return r
		}
	}

	// 5. Per-user clip cap, only for operations that mint a clip.
	if in.CountsTowardCap && cfg.MaxClipsPerUser > 0 && in.UserClipCount >= cfg.MaxClipsPerUser {
		return fail("clip limit reached (%d per player)", cfg.MaxClipsPerUser)
	}

	// 6. Custom constraint DSL.
	for _, raw := range cfg.Constraints {
		if r := applyConstraint(raw, clip, logger); !r.Valid {
			return r
		}
	}

	return ok()
}

// ValidateSplit checks both halves of a split under a single pass so the pair
// is accepted or rejected atomically. The new half is the one that counts
// toward the user's cap.
func ValidateSplit(cfg *Config, tl *Timeline, trackID string, original, newClip Clip, userClipCount int, logger zerolog.Logger) Result {
	if original.Duration <= 0 || newClip.Duration <= 0 {
		return fail("split halves must both keep a positive duration")
	}
	if r := Validate(cfg, Input{Clip: &original, TrackID: trackID, Timeline: tl}, logger); !r.Valid {
		return r
	}
	return Validate(cfg, Input{
		Clip:            &newClip,
		TrackID:         trackID,
		Timeline:        tl,
		UserClipCount:   userClipCount,
		CountsTowardCap: true,
	}, logger)
}

func checkTrackCounts(cfg *Config, tl *Timeline) Result {
	video, audio := 0, 0
	for i := range tl.Tracks {
		switch tl.Tracks[i].Type {
		case TrackVideo:
			video++
		case TrackAudio:
			audio++
		}
	}
	if cfg.MaxVideoTracks > 0 && video > cfg.MaxVideoTracks {
		return fail("timeline has %d video tracks, limit is %d", video, cfg.MaxVideoTracks)
	}
	if cfg.MaxAudioTracks > 0 && audio > cfg.MaxAudioTracks {
		return fail("timeline has %d audio tracks, limit is %d", audio, cfg.MaxAudioTracks)
	}
	return ok()
}
