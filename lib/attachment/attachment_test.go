// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFromTransportRejectsIllegalPaths(t *testing.T) {
	cases := []struct {
		name string
		path string
	}{
		{"absolute", "/etc/passwd"},
		{"parent traversal", "../x"},
		{"traversal mid-path", "a/../../b"},
		{"bare dot", "."},
		{"dot-only segment", "a/.../b"},
		{"backslash in first segment", `..\x`},
		{"empty", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromTransport(File{Name: tc.path})
			if !errors.Is(err, ErrIllegalPath) {
				t.Fatalf("FromTransport(%q) = %v, want ErrIllegalPath", tc.path, err)
			}
			if !errors.Is(err, ErrAttachment) {
				t.Errorf("ErrIllegalPath should wrap ErrAttachment")
			}
		})
	}
}

func TestFromTransportAccepts(t *testing.T) {
	att, err := FromTransport(File{Name: "out/result.txt", Content: "aGVsbG8="})
	if err != nil {
		t.Fatalf("FromTransport failed: %v", err)
	}
	if att.Path() != "out/result.txt" {
		t.Errorf("path = %q, want out/result.txt", att.Path())
	}
	if !bytes.Equal(att.Bytes(), []byte("hello")) {
		t.Errorf("content = %q, want hello", att.Bytes())
	}
	if att.Size() != 5 {
		t.Errorf("size = %d, want 5", att.Size())
	}

	// Hidden files and dot-prefixed names are fine; only dot-only
	// segments are traversal.
	if _, err := FromTransport(File{Name: ".config/settings"}); err != nil {
		t.Errorf("dot-prefixed segment rejected: %v", err)
	}
}

func TestFromTransportDefaultsToEmptyContent(t *testing.T) {
	att, err := FromTransport(File{Name: "empty.txt"})
	if err != nil {
		t.Fatalf("FromTransport failed: %v", err)
	}
	if att.Size() != 0 {
		t.Errorf("size = %d, want 0", att.Size())
	}
}

func TestFromTransportRejectsMalformedContent(t *testing.T) {
	_, err := FromTransport(File{Name: "a.txt", Content: "not base64!!"})
	if !errors.Is(err, ErrParsing) {
		t.Fatalf("FromTransport = %v, want ErrParsing", err)
	}
	if !errors.Is(err, ErrAttachment) {
		t.Errorf("ErrParsing should wrap ErrAttachment")
	}
}

func TestRoundTrip(t *testing.T) {
	original := New("out/blob.bin", []byte{0x00, 0xff, 'h', 'i'})

	wire := original.ToTransport()
	if wire.Size != 4 {
		t.Errorf("wire size = %d, want 4", wire.Size)
	}

	decoded, err := FromTransport(File{Name: wire.Path, Content: wire.Content})
	if err != nil {
		t.Fatalf("FromTransport failed: %v", err)
	}
	if decoded.Path() != original.Path() {
		t.Errorf("path = %q, want %q", decoded.Path(), original.Path())
	}
	if !bytes.Equal(decoded.Bytes(), original.Bytes()) {
		t.Errorf("content = %v, want %v", decoded.Bytes(), original.Bytes())
	}
}

func TestTextBinaryForm(t *testing.T) {
	// Multibyte text: size is the UTF-8 byte length, not the rune count.
	att := NewText("greeting.txt", "héllo")
	if att.Size() != 6 {
		t.Errorf("size = %d, want 6", att.Size())
	}
	if !bytes.Equal(att.Bytes(), []byte("héllo")) {
		t.Errorf("bytes = %v, want UTF-8 encoding", att.Bytes())
	}

	// One round trip collapses text to binary; content is preserved.
	wire := att.ToTransport()
	decoded, err := FromTransport(File{Name: wire.Path, Content: wire.Content})
	if err != nil {
		t.Fatalf("FromTransport failed: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), att.Bytes()) {
		t.Errorf("round trip changed content")
	}
}

func TestToTransportEncoding(t *testing.T) {
	att := New("x.bin", []byte("hello"))
	wire := att.ToTransport()
	if wire.Content != base64.StdEncoding.EncodeToString([]byte("hello")) {
		t.Errorf("content = %q, want base64 of hello", wire.Content)
	}
}

func TestSaveToCreatesParents(t *testing.T) {
	dir := t.TempDir()
	att := New("out/nested/result.txt", []byte("data"))

	if err := att.SaveTo(dir); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "out", "nested", "result.txt"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "data" {
		t.Errorf("content = %q, want data", content)
	}
}

func TestSaveToText(t *testing.T) {
	dir := t.TempDir()
	att := NewText("note.txt", "héllo")

	if err := att.SaveTo(dir); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "note.txt"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "héllo" {
		t.Errorf("content = %q, want héllo", content)
	}
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.txt")
	if err := os.WriteFile(path, []byte("42"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	att, err := FromPath(path, 1<<20)
	if err != nil {
		t.Fatalf("FromPath failed: %v", err)
	}
	// The relative path is the base name, not the full path.
	if att.Path() != "output.txt" {
		t.Errorf("path = %q, want output.txt", att.Path())
	}
	if !bytes.Equal(att.Bytes(), []byte("42")) {
		t.Errorf("content = %q, want 42", att.Bytes())
	}
}

func TestFromPathEnforcesMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.big")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 100), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := FromPath(path, 10); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("FromPath = %v, want ErrTooLarge", err)
	}

	// Non-positive limit means unbounded.
	if _, err := FromPath(path, 0); err != nil {
		t.Fatalf("FromPath with no limit failed: %v", err)
	}
}

func TestDigest(t *testing.T) {
	binary := New("a.bin", []byte("hello"))
	text := NewText("a.txt", "hello")

	if len(binary.Digest()) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(binary.Digest()))
	}
	// Digest covers the binary form, so equal content hashes equally
	// regardless of representation.
	if binary.Digest() != text.Digest() {
		t.Errorf("text and binary digests differ for identical content")
	}
	if binary.Digest() == New("b.bin", []byte("other")).Digest() {
		t.Errorf("different content produced identical digests")
	}
}
