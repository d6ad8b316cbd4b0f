package media

import (
	"math"
	"path/filepath"
	"strings"
)

// Source is the kind of device a clip most likely came from.
type Source string

const (
	SourcePhone     Source = "iphone"
	SourceCamcorder Source = "handycam"
	SourceUnknown   Source = "unknown"
)

// DetectSource guesses the recording device from the extension and codecs.
// AVCHD containers and AC-3 audio point to a camcorder, HEVC and MOV to a
// phone. Plain MP4/H.264 is only attributed to a camcorder at ~29.97fps.
func DetectSource(path string, d Descriptor) Source {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	video := strings.ToLower(d.VideoCodec)
	audio := strings.ToLower(d.AudioCodec)

	switch {
	case ext == "mts" || ext == "m2ts":
		return SourceCamcorder
	case video == "hevc" || video == "h265":
		return SourcePhone
	case audio == "ac3" || audio == "ac-3":
		return SourceCamcorder
	case ext == "mov":
		return SourcePhone
	case ext == "mp4" && (video == "h264" || video == "avc1") && math.Abs(d.FrameRate-29.97) < 0.1:
		return SourceCamcorder
	}
	return SourceUnknown
}

// HasSourceMismatch reports whether the clips mix phone and camcorder
// footage. Paths without metadata are ignored.
func HasSourceMismatch(paths []string, md Metadata) bool {
	seen := map[Source]bool{}
	for _, p := range paths {
		d, ok := md[p]
		if !ok {
			continue
		}
		seen[DetectSource(p, d)] = true
	}
	return seen[SourcePhone] && seen[SourceCamcorder]
}
