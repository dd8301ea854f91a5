package stash

import (
	"fmt"
	"io/fs"

	"git.tcp.direct/tcp.direct/stash/backup"
)

// Backup syncs the datastore and archives the whole store directory,
// datafiles and meta.json sidecar included, to outPath. Only file-backed
// stores can be archived; the caller is responsible for quiescing writes
// for the duration.
func (s *Store) Backup(outPath string) (backup.Info, error) {
	if s.closed.Load() {
		return backup.Info{}, fs.ErrClosed
	}
	if s.path == "" {
		return backup.Info{}, ErrNoPath
	}
	<-s.ready
	if err := s.docs.Sync(); err != nil {
		return backup.Info{}, fmt.Errorf("error syncing before backup: %w", err)
	}
	return backup.TarGz(s.path, outPath)
}
