package backup

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func seedStoreDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sub := filepath.Join(dir, "bitcask")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatalf("error creating sample directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), []byte(`{"engine":"bitcask"}`), 0644); err != nil {
		t.Fatalf("error creating sample file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "data.bin"), []byte("payload"), 0644); err != nil {
		t.Fatalf("error creating sample file: %v", err)
	}
	return dir
}

func TestTarGz(t *testing.T) {
	inDir := seedStoreDir(t)
	outDir := t.TempDir()

	info, err := TarGz(inDir, outDir)
	if err != nil {
		t.Fatalf("error creating tar.gz backup: %v", err)
	}
	if info.Format != Format {
		t.Errorf("expected format %s, got %s", Format, info.Format)
	}
	if info.Path == "" || filepath.Dir(info.Path) != outDir {
		t.Errorf("expected the archive inside %s, got %q", outDir, info.Path)
	}
	if info.Size <= 0 {
		t.Error("expected a recorded archive size")
	}
	if info.Checksum.Type != "sha256" || info.Checksum.Value == "" {
		t.Errorf("expected a valid checksum, got %v", info.Checksum)
	}

	raw, err := os.ReadFile(info.Path)
	if err != nil {
		t.Fatalf("error reading backup file: %v", err)
	}
	if fmt.Sprintf("%x", sha256.Sum256(raw)) != info.Checksum.Value {
		t.Error("expected checksum to match the file")
	}
	if err = Verify(info, info.Path); err != nil {
		t.Fatalf("error verifying backup: %v", err)
	}

	manifest, err := ReadManifest(info.Path)
	if err != nil {
		t.Fatalf("error reading manifest: %v", err)
	}
	if manifest.Checksum != info.Checksum {
		t.Error("expected the manifest to carry the same checksum")
	}
}

func TestVerifyCatchesTampering(t *testing.T) {
	inDir := seedStoreDir(t)
	out := filepath.Join(t.TempDir(), "store.tar.gz")
	info, err := TarGz(inDir, out)
	if err != nil {
		t.Fatalf("error creating tar.gz backup: %v", err)
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("error opening backup for tampering: %v", err)
	}
	if _, err = f.Write([]byte("garbage")); err != nil {
		t.Fatalf("error appending garbage: %v", err)
	}
	if err = f.Close(); err != nil {
		t.Fatalf("error closing tampered file: %v", err)
	}
	if err = Verify(info, out); err == nil {
		t.Fatal("expected verification to fail after tampering")
	}
}

func TestVerifyRejectsUnknowns(t *testing.T) {
	if err := Verify(Info{Format: "zip"}, "irrelevant"); err == nil {
		t.Error("expected an error for an unsupported format")
	}
	inDir := seedStoreDir(t)
	out := filepath.Join(t.TempDir(), "store.tar.gz")
	info, err := TarGz(inDir, out)
	if err != nil {
		t.Fatalf("error creating tar.gz backup: %v", err)
	}
	info.Checksum.Type = "crc32"
	if err = Verify(info, out); err == nil {
		t.Error("expected an error for an unsupported checksum type")
	}
}

func TestRestore(t *testing.T) {
	inDir := seedStoreDir(t)
	out := filepath.Join(t.TempDir(), "store.tar.gz")
	info, err := TarGz(inDir, out)
	if err != nil {
		t.Fatalf("error creating tar.gz backup: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "restored")
	if err = Restore(info.Path, dest); err != nil {
		t.Fatalf("error restoring backup: %v", err)
	}
	meta, err := os.ReadFile(filepath.Join(dest, "meta.json"))
	if err != nil {
		t.Fatalf("error reading restored meta.json: %v", err)
	}
	if string(meta) != `{"engine":"bitcask"}` {
		t.Errorf("restored meta.json does not match, got %s", meta)
	}
	payload, err := os.ReadFile(filepath.Join(dest, "bitcask", "data.bin"))
	if err != nil {
		t.Fatalf("error reading restored datafile: %v", err)
	}
	if string(payload) != "payload" {
		t.Errorf("restored datafile does not match, got %s", payload)
	}
}

func TestRestoreRefusesNonEmptyTarget(t *testing.T) {
	inDir := seedStoreDir(t)
	out := filepath.Join(t.TempDir(), "store.tar.gz")
	info, err := TarGz(inDir, out)
	if err != nil {
		t.Fatalf("error creating tar.gz backup: %v", err)
	}
	dest := t.TempDir()
	if err = os.WriteFile(filepath.Join(dest, "occupied"), []byte("x"), 0644); err != nil {
		t.Fatalf("error seeding restore target: %v", err)
	}
	if err = Restore(info.Path, dest); err == nil {
		t.Fatal("expected an error restoring into a non-empty directory")
	}
}
