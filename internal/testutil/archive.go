package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

// TarEntry is one entry of a test archive. A zero Type means a regular file.
type TarEntry struct {
	Name     string
	Body     string
	Mode     int64
	Type     byte
	Linkname string
}

// TarGz builds a gzip-compressed tar archive in memory.
func TarGz(t *testing.T, entries ...TarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, e := range entries {
		typ := e.Type
		if typ == 0 {
			typ = tar.TypeReg
		}
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
			if typ == tar.TypeDir {
				mode = 0o755
			}
		}
		header := &tar.Header{
			Name:     e.Name,
			Mode:     mode,
			Typeflag: typ,
			Linkname: e.Linkname,
		}
		if typ == tar.TypeReg {
			header.Size = int64(len(e.Body))
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header for %s: %v", e.Name, err)
		}
		if typ == tar.TypeReg {
			if _, err := tarWriter.Write([]byte(e.Body)); err != nil {
				t.Fatalf("failed to write content for %s: %v", e.Name, err)
			}
		}
	}

	if err := tarWriter.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := gzipWriter.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	return buf.Bytes()
}

// WriteTarGz writes a test archive to dir/name and returns its path.
func WriteTarGz(t *testing.T, dir, name string, entries ...TarEntry) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, TarGz(t, entries...), 0o644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	return path
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteScript writes an executable shell script to dir/name.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script %s: %v", name, err)
	}
	return path
}
