// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle packs collected output attachments into a zstd-compressed
// tar stream, one entry per attachment at its relative path. This is the
// file-oriented alternative to the JSON wire form when outputs are large
// or numerous.
package bundle

import (
	"archive/tar"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/scratch-foundation/scratchbox/lib/attachment"
)

// Write writes attachments to w as a tar.zst stream.
func Write(w io.Writer, attachments []*attachment.Attachment) error {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}

	tw := tar.NewWriter(encoder)
	for _, att := range attachments {
		data := att.Bytes()
		header := &tar.Header{
			Name: att.Path(),
			Mode: 0o644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("writing bundle entry %s: %w", att.Path(), err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("writing bundle entry %s: %w", att.Path(), err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing bundle tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finalizing bundle compression: %w", err)
	}
	return nil
}

// Read reads a tar.zst stream produced by [Write] back into attachments.
// Non-regular entries are skipped.
func Read(r io.Reader) ([]*attachment.Attachment, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	var attachments []*attachment.Attachment
	tr := tar.NewReader(decoder)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return attachments, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading bundle tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading bundle entry %s: %w", header.Name, err)
		}
		attachments = append(attachments, attachment.New(header.Name, data))
	}
}
