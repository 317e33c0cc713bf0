package image

import (
	_ "embed"
)

// DefaultDockerfile and DefaultEntrypoint are the content paude builds a
// session image from when the caller doesn't supply its own. Both are
// folded into the session's cache key by Hash, so editing either busts
// the build cache.
//
//go:embed assets/session.Dockerfile
var DefaultDockerfile string

//go:embed assets/entrypoint.sh
var DefaultEntrypoint string
