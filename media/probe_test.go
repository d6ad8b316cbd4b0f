package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// iPhone-style recording: HEVC 4K at 30000/1001 with a creation tag.
const samplePhone = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "hevc",
      "codec_type": "video",
      "width": 3840,
      "height": 2160,
      "r_frame_rate": "30000/1001"
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_type": "audio"
    },
    {
      "index": 2,
      "codec_name": "h264",
      "codec_type": "video",
      "width": 320,
      "height": 240,
      "r_frame_rate": "30/1"
    }
  ],
  "format": {
    "filename": "IMG_0001.MOV",
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "tags": { "creation_time": "2024-05-03T09:12:45.000000Z" }
  }
}`

// Camcorder clip without audio or creation tag.
const sampleSilent = `{
  "streams": [
    { "index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080, "r_frame_rate": "60/0" }
  ],
  "format": { "filename": "00001.MTS", "format_name": "mpegts" }
}`

func TestParseProbeJSON(t *testing.T) {
	t.Run("first streams win", func(t *testing.T) {
		d, err := ParseProbeJSON([]byte(samplePhone))
		require.NoError(t, err)
		assert.Equal(t, "hevc", d.VideoCodec)
		assert.Equal(t, "aac", d.AudioCodec)
		assert.Equal(t, 3840, d.Width)
		assert.Equal(t, 2160, d.Height)
		assert.Equal(t, 29.97, d.FrameRate)
		require.NotNil(t, d.CreationTime)
		assert.Equal(t, time.Date(2024, 5, 3, 9, 12, 45, 0, time.UTC), d.CreationTime.UTC())
		assert.Equal(t, "2024-05-03T09:12:45.000000Z", d.CreationTag)
	})

	t.Run("missing audio and creation tag", func(t *testing.T) {
		d, err := ParseProbeJSON([]byte(sampleSilent))
		require.NoError(t, err)
		assert.Equal(t, "unknown", d.AudioCodec)
		assert.Nil(t, d.CreationTime)
		assert.Equal(t, 60.0, d.FrameRate)
	})

	t.Run("non-RFC3339 creation tag kept raw", func(t *testing.T) {
		d, err := ParseProbeJSON([]byte(`{"streams": [], "format": {"tags": {"creation_time": "2024:05:03 09:12:45"}}}`))
		require.NoError(t, err)
		assert.Nil(t, d.CreationTime)
		assert.Equal(t, "2024:05:03 09:12:45", d.CreationTag)
	})

	t.Run("malformed output", func(t *testing.T) {
		_, err := ParseProbeJSON([]byte("not json"))
		assert.Error(t, err)
	})
}

func TestParseFrameRate(t *testing.T) {
	cases := map[string]float64{
		"30000/1001": 29.97,
		"60000/1001": 59.94,
		"25/1":       25,
		"60/0":       60,
		"24":         24,
		"":           0,
		"abc/1":      0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseFrameRate(in), in)
	}
}

func TestDisplayTime(t *testing.T) {
	mod := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := Descriptor{ModifiedTime: mod}
	assert.Equal(t, mod, d.DisplayTime())

	created := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	d.CreationTime = &created
	assert.Equal(t, created, d.DisplayTime())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fakeprobe")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestProber_Probe(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("data"), 0o644))

	t.Run("success", func(t *testing.T) {
		bin := writeScript(t, "cat <<'EOF'\n"+sampleSilent+"\nEOF\n")
		p := NewProber(bin, 5*time.Second, zap.NewNop())

		d, err := p.Probe(context.Background(), clip)
		require.NoError(t, err)
		assert.Equal(t, "h264", d.VideoCodec)
		assert.False(t, d.ModifiedTime.IsZero())
	})

	t.Run("unparsable creation tag is logged", func(t *testing.T) {
		out := `{"streams": [], "format": {"tags": {"creation_time": "yesterday"}}}`
		bin := writeScript(t, "cat <<'EOF'\n"+out+"\nEOF\n")
		core, logs := observer.New(zapcore.DebugLevel)
		p := NewProber(bin, 5*time.Second, zap.New(core))

		d, err := p.Probe(context.Background(), clip)
		require.NoError(t, err)
		assert.Nil(t, d.CreationTime)
		assert.Equal(t, d.ModifiedTime, d.DisplayTime())

		entries := logs.FilterMessage("unparsable creation_time tag, falling back to mtime").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "yesterday", entries[0].ContextMap()["creation_time"])
	})

	t.Run("non-zero exit", func(t *testing.T) {
		bin := writeScript(t, "echo 'Invalid data found' >&2\nexit 1\n")
		p := NewProber(bin, 5*time.Second, zap.NewNop())

		_, err := p.Probe(context.Background(), clip)
		var perr *ProbeError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, 1, perr.ExitCode)
		assert.Contains(t, perr.Error(), "Invalid data found")
	})

	t.Run("binary missing", func(t *testing.T) {
		p := NewProber(filepath.Join(t.TempDir(), "nope"), time.Second, zap.NewNop())
		_, err := p.Probe(context.Background(), clip)
		var perr *ProbeError
		assert.True(t, errors.As(err, &perr))
	})

	t.Run("malformed output", func(t *testing.T) {
		bin := writeScript(t, "echo garbage\n")
		p := NewProber(bin, 5*time.Second, zap.NewNop())
		_, err := p.Probe(context.Background(), clip)
		var perr *ProbeError
		assert.True(t, errors.As(err, &perr))
	})
}
