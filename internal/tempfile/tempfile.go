// Package tempfile implements the create-then-unlink idiom spec.md §3
// Lifecycles requires of the geom/meta temp files: "created at ingest
// start in a caller-provided temp directory, immediately unlinked ...
// destroyed at process exit." The returned handle remains fully readable
// and writable after unlinking — only its directory entry is gone — and
// the kernel reclaims its storage the moment the handle is closed, with
// no separate cleanup step required even on a crash.
package tempfile

import "os"

// New creates a file in dir matching pattern (os.CreateTemp's pattern
// syntax: a trailing "*" is replaced with a random string) and removes its
// directory entry before returning. The file descriptor stays valid; it is
// the only remaining way to reach the file's contents.
func New(dir, pattern string) (*os.File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
