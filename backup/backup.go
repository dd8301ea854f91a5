// Package backup archives store directories into checksummed tar.gz
// files, with a JSON manifest written beside each archive so it can be
// verified later without any process state.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Format identifies the only archive format produced today.
const Format = "tar.gz"

// Checksum pins the archive contents.
type Checksum struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Info describes a finished backup. TarGz writes it beside the archive as
// <archive>.json.
type Info struct {
	Date     time.Time `json:"timestamp"`
	Format   string    `json:"format"`
	Path     string    `json:"path"`
	Checksum Checksum  `json:"checksum"`
	Size     int64     `json:"size,omitempty"`
}

// ManifestPath returns where TarGz writes the Info manifest for an
// archive.
func ManifestPath(archive string) string {
	return archive + ".json"
}

// ReadManifest loads the Info manifest written beside an archive.
func ReadManifest(archive string) (Info, error) {
	none := Info{}
	data, err := os.ReadFile(ManifestPath(archive))
	if err != nil {
		return none, fmt.Errorf("error reading backup manifest: %w", err)
	}
	if err = json.Unmarshal(data, &none); err != nil {
		return Info{}, fmt.Errorf("error parsing backup manifest: %w", err)
	}
	return none, nil
}

// TarGz archives the directory at inPath into a gzipped tarball at
// outPath. When outPath is an existing directory the archive lands inside
// it, named after the source directory. The archive is read back and
// checksummed before the manifest is written, so a returned Info always
// describes a well-formed file.
func TarGz(inPath string, outPath string) (Info, error) {
	none := Info{}
	stat, err := os.Stat(inPath)
	if err != nil {
		return none, fmt.Errorf("error collecting files to backup: %w", err)
	}
	if !stat.IsDir() {
		return none, fmt.Errorf("error collecting files to backup, not a directory: %s", inPath)
	}
	stat, err = os.Stat(outPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return none, fmt.Errorf("error checking backup path: %w", err)
	}
	if stat != nil && stat.IsDir() {
		outPath = filepath.Join(outPath, filepath.Base(inPath)+".tar.gz")
	}

	f, ferr := os.Create(outPath)
	if ferr != nil {
		return none, fmt.Errorf("error creating backup file: %w", ferr)
	}
	gz := gzip.NewWriter(f)
	gz.Comment = "git.tcp.direct/tcp.direct/stash backup archive"
	tw := tar.NewWriter(gz)
	if err = tw.AddFS(os.DirFS(inPath)); err != nil {
		_ = f.Close()
		return none, fmt.Errorf("error adding files to backup: %w", err)
	}
	if err = tw.Close(); err != nil {
		_ = f.Close()
		return none, fmt.Errorf("error closing backup tar stream: %w", err)
	}
	if err = gz.Close(); err != nil {
		_ = f.Close()
		return none, fmt.Errorf("error closing backup gzip stream: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return none, fmt.Errorf("error syncing backup file: %w", err)
	}
	if err = f.Close(); err != nil {
		return none, fmt.Errorf("error closing backup file: %w", err)
	}

	sum, size, err := digest(outPath)
	if err != nil {
		return none, err
	}
	info := Info{
		Date:     time.Now(),
		Format:   Format,
		Path:     outPath,
		Checksum: Checksum{Type: "sha256", Value: sum},
		Size:     size,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return none, fmt.Errorf("error encoding backup manifest: %w", err)
	}
	if err = os.WriteFile(ManifestPath(outPath), data, 0600); err != nil {
		return none, fmt.Errorf("error writing backup manifest: %w", err)
	}
	return info, nil
}

// digest walks the finished archive end to end and hashes the raw bytes.
// Walking first catches a truncated or torn archive before a checksum
// gets minted for it.
func digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("error opening backup file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	gzr, err := gzip.NewReader(f)
	if err != nil {
		return "", 0, fmt.Errorf("error verifying backup file: %w", err)
	}
	tr := tar.NewReader(gzr)
	for {
		if _, err = tr.Next(); err != nil {
			break
		}
	}
	if !errors.Is(err, io.EOF) {
		return "", 0, fmt.Errorf("error verifying backup file: %w", err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("error seeking to beginning of backup file: %w", err)
	}
	summah := sha256.New()
	buffer := make([]byte, 1024)
	size, err := io.CopyBuffer(summah, f, buffer)
	if err != nil {
		return "", 0, fmt.Errorf("error calculating checksum: %w", err)
	}
	return fmt.Sprintf("%x", summah.Sum(nil)), size, nil
}

// Restore unpacks an archive into outPath, which must be empty or
// absent. Restoring over a live store is not supported; open the store
// after the unpack finishes.
func Restore(inPath string, outPath string) error {
	stat, err := os.Stat(inPath)
	if err != nil {
		return fmt.Errorf("error checking backup file: %w", err)
	}
	if stat.IsDir() {
		return fmt.Errorf("error checking backup file, not a file: %s", inPath)
	}
	entries, err := os.ReadDir(outPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error checking restore target: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("refusing to restore into non-empty directory: %s", outPath)
	}
	if err = os.MkdirAll(outPath, 0700); err != nil {
		return fmt.Errorf("error creating restore target: %w", err)
	}

	f, ferr := os.Open(inPath)
	if ferr != nil {
		return fmt.Errorf("error opening backup file: %w", ferr)
	}
	defer func() {
		_ = f.Close()
	}()
	gz, gerr := gzip.NewReader(f)
	if gerr != nil {
		return fmt.Errorf("error creating gzip reader: %w", gerr)
	}

	buf := make([]byte, 1024)
	tfr := tar.NewReader(gz)
	for {
		entry, terr := tfr.Next()
		if errors.Is(terr, io.EOF) {
			break
		}
		if terr != nil {
			return fmt.Errorf("error reading tar file: %w", terr)
		}
		if !filepath.IsLocal(entry.Name) {
			return fmt.Errorf("tar file contains invalid path: %s", entry.Name)
		}
		target := filepath.Join(outPath, entry.Name)
		switch entry.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, 0700); err != nil {
				return fmt.Errorf("error creating directory: %w", err)
			}
		case tar.TypeReg:
			if err = os.MkdirAll(filepath.Dir(target), 0700); err != nil {
				return fmt.Errorf("error creating directory: %w", err)
			}
			file, cerr := os.Create(target)
			if cerr != nil {
				return fmt.Errorf("error creating file %s: %w", entry.Name, cerr)
			}
			if _, err = io.CopyBuffer(file, tfr, buf); err != nil {
				_ = file.Close()
				return fmt.Errorf("error writing file: %w", err)
			}
			if err = file.Close(); err != nil {
				return fmt.Errorf("error closing file (%s): %w", file.Name(), err)
			}
		default:
			return fmt.Errorf("unsupported tar file type: %c", entry.Typeflag)
		}
	}
	return nil
}
