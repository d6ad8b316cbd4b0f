package media

import (
	"math"
	"strings"
)

// NeedsConversion reports whether a clip must be re-encoded before it can be
// concatenated with stream copy. Any mismatch against the profile forces a
// transcode: codec names (case-insensitive), exact resolution, or a frame
// rate further than the tolerance from the target.
func NeedsConversion(d Descriptor, p Profile) bool {
	return !strings.EqualFold(d.VideoCodec, p.VideoCodec) ||
		!strings.EqualFold(d.AudioCodec, p.AudioCodec) ||
		d.Width != p.Width ||
		d.Height != p.Height ||
		exceedsTolerance(d.FrameRate, p.FrameRate, p.FrameRateTolerance)
}

func exceedsTolerance(rate, target, tolerance float64) bool {
	return math.Abs(rate-target) > tolerance
}
