package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Options the runner controls itself; extra encode args may not override them.
var reservedOptions = map[string]bool{
	"-i":              true,
	"-f":              true,
	"-y":              true,
	"-n":              true,
	"-c":              true,
	"-codec":          true,
	"-c:v":            true,
	"-codec:v":        true,
	"-vcodec":         true,
	"-c:a":            true,
	"-codec:a":        true,
	"-acodec":         true,
	"-vf":             true,
	"-filter:v":       true,
	"-filter_complex": true,
	"-lavfi":          true,
	"-s":              true,
	"-r":              true,
}

// SplitArgs securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitArgs(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// ValidateExtraArgs checks operator-supplied encoder args appended to every
// transcode. They may tune the encoder (-preset, -crf, -pix_fmt...) but not
// redirect input, output or the scale/frame-rate the profile dictates.
func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		if reservedOptions[arg] {
			return fmt.Errorf("option %s is managed by the transcoder and cannot be overridden", arg)
		}
		// exec.Command never runs a shell, but these have no business in encoder tuning.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
