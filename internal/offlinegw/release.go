package offlinegw

import "strings"

// Version is the release tag used when the config does not set one.
// Override at build time with -ldflags "-X offlinegw/internal/offlinegw.Version=...".
var Version = "v1.0.0"

const DefaultPrefix = "offlinegw"

// Release identifies one generation of caches. Two releases with different
// versions never share a named cache.
type Release struct {
	Prefix  string
	Version string
}

func (r Release) CacheName() string { return r.Prefix + "-" + r.Version }

func (r Release) StaticCache() string { return r.Prefix + "-static-" + r.Version }

func (r Release) DynamicCache() string { return r.Prefix + "-dynamic-" + r.Version }

// Owns reports whether name was created by some release of this prefix.
func (r Release) Owns(name string) bool {
	return strings.HasPrefix(name, r.Prefix+"-")
}

// Current reports whether name is one of this release's caches.
func (r Release) Current(name string) bool {
	return name == r.StaticCache() || name == r.DynamicCache()
}
