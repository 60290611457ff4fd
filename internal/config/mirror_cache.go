package config

import (
	"os"
	"path/filepath"
)

// MirrorCache is the durable descriptor for one remote's mirror cache
// (SPEC_FULL.md §1.3): the remote URL, the last negotiated atomic-push
// preference, and an instance id, kept alongside the bare mirror clone.
// It is always safe to discard and rebuild.
type MirrorCache struct {
	RemoteURL string `toml:"remote_url"`
	Atomic    bool   `toml:"atomic"`
	// InstanceID identifies this particular local clone of the mirror
	// across process invocations (e.g. for correlating log lines from
	// separate helper runs against the same mirror directory).
	InstanceID string `toml:"instance_id"`
}

// mirrorCacheFile returns the path of the descriptor for a mirror directory.
func mirrorCacheFile(mirrorPath string) string {
	return filepath.Join(mirrorPath, "mirror.toml")
}

// LoadMirrorCache reads the descriptor for a mirror directory. A missing or
// corrupt file is not an error: it returns a zero-value descriptor. No
// caller uses the descriptor to decide how to sync the mirror.
func LoadMirrorCache(mirrorPath string) MirrorCache {
	var cache MirrorCache
	path := mirrorCacheFile(mirrorPath)
	if _, err := os.Stat(path); err != nil {
		return cache
	}
	if err := LoadTOML(path, &cache); err != nil {
		return MirrorCache{}
	}
	return cache
}

// SaveMirrorCache writes the descriptor for a mirror directory. Its callers
// treat a failure as non-fatal and only log a warning.
func SaveMirrorCache(mirrorPath string, cache MirrorCache) error {
	return SaveTOML(mirrorCacheFile(mirrorPath), cache)
}
