package ffmpeg

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EscapeManifestPath quotes a path for the concat demuxer's list format.
// Interior single quotes close the quoted run, emit an escaped quote and
// reopen it: ' becomes '\''.
func EscapeManifestPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// FormatManifest renders one "file '<path>'" line per input, in order.
func FormatManifest(paths []string) string {
	lines := make([]string, len(paths))
	for i, p := range paths {
		lines[i] = fmt.Sprintf("file '%s'", EscapeManifestPath(p))
	}
	return strings.Join(lines, "\n")
}

// WriteManifest writes the concat list for paths into a fresh file under dir
// and returns its path. The caller owns the file.
func WriteManifest(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "filelist_*.txt")
	if err != nil {
		return "", &FSError{Op: "create concat manifest", Path: dir, Err: err}
	}
	if _, err := f.WriteString(FormatManifest(paths)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", &FSError{Op: "write concat manifest", Path: f.Name(), Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", &FSError{Op: "write concat manifest", Path: f.Name(), Err: err}
	}
	return filepath.Clean(f.Name()), nil
}

// ParseManifest reads a concat list back into its file paths, honoring the
// same quoting rules the demuxer applies. Blank lines and # comments are
// skipped; directives other than "file" are ignored.
func ParseManifest(content string) ([]string, error) {
	var paths []string
	sc := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		directive, rest, _ := strings.Cut(line, " ")
		if directive != "file" {
			continue
		}
		p, err := unquoteManifestToken(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", lineNo, err)
		}
		paths = append(paths, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

func unquoteManifestToken(tok string) (string, error) {
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case c == '\\' && !inQuote:
			if i+1 >= len(tok) {
				return "", fmt.Errorf("dangling escape in %q", tok)
			}
			i++
			b.WriteByte(tok[i])
		default:
			b.WriteByte(c)
		}
	}
	if inQuote {
		return "", fmt.Errorf("unterminated quote in %q", tok)
	}
	return b.String(), nil
}
