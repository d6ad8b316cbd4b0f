// Package media describes source clips and decides whether they can be
// stream-copied into the merged output as-is.
package media

import "time"

// Descriptor is the probed metadata of one input clip. It is produced once
// per file and treated as read-only afterwards.
type Descriptor struct {
	VideoCodec string  `json:"videoCodec"`
	AudioCodec string  `json:"audioCodec"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameRate  float64 `json:"frameRate"`

	// CreationTime comes from the container's creation_time tag and is nil
	// when the container carries none or it is not RFC 3339. CreationTag
	// keeps the tag as written.
	CreationTime *time.Time `json:"creationTime,omitempty"`
	CreationTag  string     `json:"creationTag,omitempty"`
	ModifiedTime time.Time  `json:"fileModifiedTime"`
}

// DisplayTime returns the capture time when known, otherwise the file's
// modification time.
func (d Descriptor) DisplayTime() time.Time {
	if d.CreationTime != nil {
		return *d.CreationTime
	}
	return d.ModifiedTime
}

// Profile is the codec/resolution/frame-rate all merged output conforms to.
// VideoCodec and AudioCodec are compared against probed codec names; the
// encoder fields name the ffmpeg encoders that produce them.
type Profile struct {
	VideoCodec         string
	VideoEncoder       string
	AudioCodec         string
	AudioEncoder       string
	Width              int
	Height             int
	FrameRate          float64
	FrameRateTolerance float64
}

// DefaultProfile is 1080p60 H.264 with AAC audio.
func DefaultProfile() Profile {
	return Profile{
		VideoCodec:         "h264",
		VideoEncoder:       "libx264",
		AudioCodec:         "aac",
		AudioEncoder:       "aac",
		Width:              1920,
		Height:             1080,
		FrameRate:          60,
		FrameRateTolerance: 0.5,
	}
}

// Metadata maps input paths to their probed descriptors.
type Metadata map[string]Descriptor
