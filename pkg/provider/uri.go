package provider

import (
	"fmt"
	"strings"
)

// Location is a parsed object URI.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// String renders the location back to URI form.
func (l Location) String() string {
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// IsRemote reports whether s names an object in a remote store rather than
// a local path.
func IsRemote(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "s3://")
}

// ParseURI parses "s3://bucket/key". The key may be empty when the URI names
// a bucket or prefix.
func ParseURI(s string) (Location, error) {
	s = strings.TrimSpace(s)
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Location{}, fmt.Errorf("invalid object URI %q: missing scheme", s)
	}
	scheme = strings.ToLower(scheme)
	if scheme != string(ProviderS3) {
		return Location{}, fmt.Errorf("invalid object URI %q: unsupported scheme %q", s, scheme)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("invalid object URI %q: missing bucket", s)
	}
	return Location{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

// JoinKey joins a prefix and a name with exactly one slash.
func JoinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	name = strings.TrimPrefix(name, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
