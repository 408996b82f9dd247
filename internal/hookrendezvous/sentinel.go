package hookrendezvous

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteSentinel writes content to path atomically: it writes to a
// ".tmp"-suffixed sibling in the same directory and renames it into
// place, so a hook polling for path never observes a partially written
// file. The original implementation wrote path directly, which is the
// documented open question this closes.
func WriteSentinel(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("hookrendezvous: create response dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0600); err != nil {
		return fmt.Errorf("hookrendezvous: write sentinel temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("hookrendezvous: rename sentinel into place: %w", err)
	}
	return nil
}

// ResponsePath builds the well-known response file path for a session
// and request-kind suffix: <baseDir>/<session>/response_<suffix>, or
// <baseDir>/<session>/response when suffix is empty.
func ResponsePath(baseDir, session, suffix string) string {
	name := "response"
	if suffix != "" {
		name = "response_" + suffix
	}
	return filepath.Join(baseDir, session, name)
}
