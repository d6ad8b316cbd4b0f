package ffmpeg

import (
	"fmt"
	"strings"
)

// Operation names carried by ExitError.
const (
	OpTranscode = "transcode"
	OpConcat    = "concat"
	OpThumbnail = "thumbnail"
)

// ExitError reports a non-zero exit from an ffmpeg invocation. Stderr is
// kept verbatim so it can be surfaced to the user.
type ExitError struct {
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("ffmpeg %s failed (exit code %d)", e.Op, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// FSError reports a filesystem step around an ffmpeg call, such as writing
// the concat manifest, that failed before ffmpeg ran.
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error { return e.Err }
