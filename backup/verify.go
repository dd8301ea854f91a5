package backup

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

// Verify re-hashes the archive at path and compares it against the
// manifest. Manifests produced by TarGz always carry sha256, but hand
// written ones with the other common digests verify too.
func Verify(info Info, path string) error {
	switch info.Format {
	case Format:
		//
	default:
		return errors.New("unsupported backup format")
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening backup file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var hasher hash.Hash
	switch info.Checksum.Type {
	case "sha256":
		hasher = sha256.New()
	case "sha512":
		hasher = sha512.New()
	case "md5":
		hasher = md5.New()
	case "sha1":
		hasher = sha1.New()
	default:
		return fmt.Errorf("unsupported checksum type: %s", info.Checksum.Type)
	}

	if _, err = io.Copy(hasher, file); err != nil {
		return fmt.Errorf("error hashing backup file: %w", err)
	}
	if info.Checksum.Value != fmt.Sprintf("%x", hasher.Sum(nil)) {
		return errors.New("checksums do not match")
	}
	return nil
}
