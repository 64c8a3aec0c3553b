// Package compression implements decompression of distribution documents.
//
// The authority delivers each document as a base64 string wrapping a
// DEFLATE stream. Most servers emit a zlib-framed stream; some historical
// responses carry the raw DEFLATE body with no framing, so inflation falls
// back to raw DEFLATE when the zlib header check fails.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/base64"
	"fmt"
	"io"
)

// Inflate decompresses a DEFLATE stream, accepting both zlib-framed and
// raw DEFLATE input.
func Inflate(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty compressed payload")
	}

	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		// Raw DEFLATE without the zlib header.
		raw := flate.NewReader(bytes.NewReader(data))
		defer raw.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, raw); err != nil {
			return nil, fmt.Errorf("failed to inflate payload: %w", err)
		}
		return buf.Bytes(), nil
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("failed to read compressed payload: %w", err)
	}

	return buf.Bytes(), nil
}

// InflateBase64 base64-decodes and then inflates a document payload.
func InflateBase64(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return Inflate(compressed)
}

// Deflate compresses data into a zlib-framed DEFLATE stream. Used by tests
// and tooling that fabricate distribution responses.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zlib writer: %w", err)
	}

	return buf.Bytes(), nil
}

// DeflateBase64 compresses and base64-encodes a document payload.
func DeflateBase64(data []byte) (string, error) {
	compressed, err := Deflate(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}
