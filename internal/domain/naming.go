package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is used for artifact and status file names (always UTC).
const TimestampLayout = "20060102_150405"

const maxSanitizedLen = 120

// ParseSource validates a raw identifier and returns it as a SourceID.
func ParseSource(raw string) (SourceID, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return "", ErrInvalidSource
	}
	return SourceID(raw), nil
}

// Sanitize turns a source identifier into a string that is safe to embed in a file name.
// The scheme is dropped and every run of characters outside [A-Za-z0-9.-] becomes one '_'.
func Sanitize(source SourceID) string {
	s := string(source)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	var b strings.Builder
	b.Grow(len(s))
	underscore := false
	for _, r := range s {
		if r < 128 && (r == '.' || r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}

	out := strings.Trim(b.String(), "_.")
	if len(out) > maxSanitizedLen {
		out = strings.TrimRight(out[:maxSanitizedLen], "_.")
	}
	if out == "" {
		out = "source"
	}
	return out
}

// SourceKey names a source in file names. Sanitize is lossy, so unless the source
// survived it unchanged a short digest of the raw identifier is appended; two
// sources never share a key.
func SourceKey(source SourceID) string {
	key := Sanitize(source)
	if key == string(source) {
		return key
	}
	return key + "_" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()[:8]
}

// SourcePrefix is the common file name prefix of every artifact of source.
func SourcePrefix(source SourceID) string {
	return SourceKey(source) + "_"
}

// Stem returns the artifact file name without extension: {source_key}_{timestamp}.
func Stem(source SourceID, startedAt time.Time) string {
	return SourcePrefix(source) + startedAt.UTC().Format(TimestampLayout)
}

// RemoteDestination composes {remote_root}/{artifact_filename}.
func RemoteDestination(root, filename string) string {
	root = strings.TrimRight(root, "/")
	if root == "" {
		return filename
	}
	return root + "/" + filename
}
