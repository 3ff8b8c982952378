// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Error taxonomy. ErrIllegalPath and ErrParsing both wrap ErrAttachment,
// so callers can match the family with errors.Is(err, ErrAttachment) or
// branch on the specific failure.
var (
	// ErrAttachment is the base class for rejected attachment input.
	ErrAttachment = errors.New("invalid attachment")

	// ErrIllegalPath marks an attachment path that could escape the
	// target directory: absolute, separator-led, or dot-only segments.
	ErrIllegalPath = fmt.Errorf("%w: illegal path", ErrAttachment)

	// ErrParsing marks transport content that is not valid base64.
	ErrParsing = fmt.Errorf("%w: unparsable content", ErrAttachment)

	// ErrTooLarge marks content exceeding the configured byte limit.
	ErrTooLarge = fmt.Errorf("%w: content too large", ErrAttachment)
)

// File is the transport form of an input attachment.
type File struct {
	// Name is the relative path of the file inside the target directory.
	Name string `json:"name"`

	// Content is the base64-encoded file content. Optional; empty means
	// an empty file.
	Content string `json:"content,omitempty"`
}

// OutputFile is the transport form of a collected output attachment.
type OutputFile struct {
	Path    string `json:"path"`
	Size    int    `json:"size"`
	Content string `json:"content"`
}

// Attachment is one file exchanged across the sandbox boundary. Content is
// held as exactly one of text or raw bytes; the binary form is what counts
// for size and transport.
type Attachment struct {
	path   string
	data   []byte
	text   string
	isText bool
}

// New creates a binary attachment. The path is not validated; use
// [FromTransport] for untrusted input.
func New(relativePath string, content []byte) *Attachment {
	return &Attachment{path: relativePath, data: content}
}

// NewText creates a text attachment. Its binary form is the UTF-8
// encoding of the text.
func NewText(relativePath string, content string) *Attachment {
	return &Attachment{path: relativePath, text: content, isText: true}
}

// FromTransport validates and decodes an attachment received over the
// wire. Validation happens once, here; the resulting attachment's path is
// never re-checked. The path must stay strictly inside a target directory:
// absolute paths, a path separator smuggled into the first segment, and
// segments made up entirely of dots (".." traversal and bare ".") are all
// rejected with [ErrIllegalPath]. Malformed base64 content is rejected
// with [ErrParsing]. The result always carries binary content.
func FromTransport(file File) (*Attachment, error) {
	name := file.Name
	segments := strings.Split(name, "/")

	if name == "" || path.IsAbs(name) || strings.ContainsRune(segments[0], '\\') {
		return nil, fmt.Errorf("%w: file path %q must be relative", ErrIllegalPath, name)
	}
	for _, segment := range segments {
		if segment != "" && strings.Trim(segment, ".") == "" {
			return nil, fmt.Errorf("%w: file path %q may not use traversal ('..')", ErrIllegalPath, name)
		}
	}

	content, err := base64.StdEncoding.DecodeString(file.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsing, err)
	}
	return New(name, content), nil
}

// FromPath creates a binary attachment from a local file: the base name
// becomes the relative path and the full contents become the content. The
// path is trusted (already resolved against a real filesystem object) and
// is not validated. A non-positive maxSize means unbounded; otherwise
// files beyond the limit are rejected with [ErrTooLarge] before being
// read.
func FromPath(filePath string, maxSize int64) (*Attachment, error) {
	if maxSize > 0 {
		info, err := os.Stat(filePath)
		if err != nil {
			return nil, fmt.Errorf("stat attachment %s: %w", filePath, err)
		}
		if info.Size() > maxSize {
			return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, filePath, info.Size(), maxSize)
		}
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", filePath, err)
	}
	return New(filepath.Base(filePath), content), nil
}

// Path returns the attachment's relative path.
func (a *Attachment) Path() string {
	return a.path
}

// Bytes returns the binary form of the content: raw bytes unchanged, text
// encoded as UTF-8.
func (a *Attachment) Bytes() []byte {
	if a.isText {
		return []byte(a.text)
	}
	return a.data
}

// Size returns the byte length of the content's binary form.
func (a *Attachment) Size() int {
	return len(a.Bytes())
}

// ToTransport converts the attachment to its wire form, with content
// base64-encoded.
func (a *Attachment) ToTransport() OutputFile {
	data := a.Bytes()
	return OutputFile{
		Path:    a.path,
		Size:    len(data),
		Content: base64.StdEncoding.EncodeToString(data),
	}
}

// SaveTo writes the attachment to directory/path, creating intermediate
// directories as needed. Text content is written as UTF-8, binary content
// verbatim.
func (a *Attachment) SaveTo(directory string) error {
	file := filepath.Join(directory, a.path)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %s: %w", file, err)
	}
	if err := os.WriteFile(file, a.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing attachment %s: %w", file, err)
	}
	return nil
}
