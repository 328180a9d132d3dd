package timeline

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Custom constraints arrive as "type:param1:param2..." strings so the
// EditMash app can author new rules without a coordinated hub deploy. Unknown
// rule types are logged and ignored: a mismatched rollout must not brick an
// active match.

// fixedClipDuration comparisons tolerate float jitter from client-side
// arithmetic.
const fixedDurationTolerance = 0.010 // seconds

func applyConstraint(raw string, clip *Clip, logger zerolog.Logger) Result {
	parts := strings.Split(raw, ":")
	name := strings.TrimSpace(parts[0])
	params := parts[1:]

	switch name {
	case "fixedClipDuration":
		if len(params) != 1 {
			logger.Warn().Str("constraint", raw).Msg("fixedClipDuration needs exactly one parameter, skipping")
			return ok()
		}
		want, err := parseSeconds(params[0])
		if err != nil {
			logger.Warn().Str("constraint", raw).Err(err).Msg("Unparseable fixedClipDuration parameter, skipping")
			return ok()
		}
		if math.Abs(clip.Duration-want) > fixedDurationTolerance {
			return fail("clips in this match must be exactly %.3fs long", want)
		}
		return ok()

	case "allowedTypes":
		if len(params) == 0 {
			logger.Warn().Str("constraint", raw).Msg("allowedTypes without parameters, skipping")
			return ok()
		}
		allowed := strings.Split(params[0], ",")
		for _, a := range allowed {
			if ClipKind(strings.TrimSpace(a)) == clip.Kind {
				return ok()
			}
		}
		return fail("clip type %q is not allowed in this match (allowed: %s)", clip.Kind, params[0])

	default:
		logger.Warn().Str("constraint", raw).Msg("Unknown constraint type, skipping")
		return ok()
	}
}

// parseSeconds accepts Go duration syntax ("3s", "1500ms") or a bare number
// of seconds ("3", "2.5").
func parseSeconds(s string) (float64, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d.Seconds(), nil
	}
	return strconv.ParseFloat(s, 64)
}
