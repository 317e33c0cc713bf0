// Package image implements the content-hash based image pipeline (C2):
// computing the cache key, resolving whether a cached image already
// satisfies it, and materializing one via local build, registry push, or
// cluster-side build.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/paude/paude/internal/session"
)

// TagLength is the number of hex characters kept from the full digest.
const TagLength = 12

// Hash computes the content-addressed cache key for a set of BuildInputs:
// SHA-256 over the ordered concatenation of every input, truncated to
// TagLength hex characters. The domain is content only — no timestamps,
// no enumeration order — so identical inputs always produce identical
// tags. WorkspaceHash participates only when non-empty, since most builds
// do not depend on workspace tree contents.
func Hash(in session.BuildInputs) string {
	h := sha256.New()
	for _, part := range []string{
		in.ConfigFile,
		in.DockerfileTxt,
		in.BaseImage,
		in.EntrypointTxt,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	if in.WorkspaceHash != "" {
		h.Write([]byte(in.WorkspaceHash))
		h.Write([]byte{0})
	}
	h.Write([]byte(in.Version))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:TagLength]
}

// Tag builds the full image reference for a repository and BuildInputs:
// <repo>:<hash>-<arch>. The architecture suffix keeps amd64 and arm64
// builds of the same inputs from shadowing each other in a shared
// registry.
func Tag(repo string, in session.BuildInputs) string {
	return repo + ":" + Hash(in) + "-" + runtime.GOARCH
}

// HashWorkspace computes a deterministic digest of a workspace tree for
// builds that bake workspace contents into the image. Files are visited
// in sorted path order and only path and content participate, never
// modification times.
func HashWorkspace(dir string) (string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			name := fi.Name()
			if name == ".git" || name == "node_modules" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		h.Write([]byte(rel))
		h.Write([]byte{0})
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:TagLength], nil
}
