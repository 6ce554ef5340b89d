package vo

import (
	"errors"
	"path"
	"strings"
)

// TempSuffix marks an in-progress download on disk.
const TempSuffix = ".part"

var (
	ErrEmptyPath   = errors.New("resource path cannot be empty")
	ErrInvalidPath = errors.New("invalid resource path")
)

// ResourcePath is the slash separated path of a remote resource relative to
// the base URL. It doubles as the relative path inside the cache root.
type ResourcePath struct {
	value string
}

// NewResourcePath normalizes p and rejects paths that would escape the cache
// root, collide with the temp file marker or name a hidden file or directory.
func NewResourcePath(p string) (ResourcePath, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return ResourcePath{}, ErrEmptyPath
	}
	cleaned := path.Clean(p)
	for _, seg := range strings.Split(cleaned, "/") {
		if strings.HasPrefix(seg, ".") {
			return ResourcePath{}, ErrInvalidPath
		}
	}
	if strings.HasSuffix(cleaned, TempSuffix) {
		return ResourcePath{}, ErrInvalidPath
	}
	return ResourcePath{value: cleaned}, nil
}

// String returns the normalized path.
func (rp ResourcePath) String() string {
	return rp.value
}

// TempName returns the relative name of the in-progress file of a resource.
func TempName(name string) string {
	return name + TempSuffix
}

// StripTempSuffix maps a scanned relative file name back to its resource
// path. The second result reports whether the name was a temp file.
func StripTempSuffix(name string) (string, bool) {
	if strings.HasSuffix(name, TempSuffix) {
		return strings.TrimSuffix(name, TempSuffix), true
	}
	return name, false
}

// FromURLPath strips basePath from an absolute URL path, returning the
// remainder unchanged when it does not start with basePath.
func FromURLPath(urlPath, basePath string) string {
	if basePath != "" && strings.HasPrefix(urlPath, basePath) {
		return urlPath[len(basePath):]
	}
	return urlPath
}
