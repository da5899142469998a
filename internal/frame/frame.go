// Package frame encodes and decodes the binary messages returned to channel
// clients for a successful resolution.
//
// Layout, with no delimiters beyond fixed widths:
//
//	[4 bytes big-endian uint32 L][L bytes metadata JSON][payload...]
//
// The payload has no explicit length. Readers take it from the transport's own
// message boundary: len(msg) - 4 - L.
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the width of the metadata length prefix.
const HeaderSize = 4

var (
	// ErrShortFrame is returned when a message is too small to hold the prefix.
	ErrShortFrame = errors.New("frame shorter than length prefix")
	// ErrMetadataOverrun is returned when the declared metadata length runs past
	// the end of the message.
	ErrMetadataOverrun = errors.New("metadata length exceeds frame")
)

// Metadata describes the payload carried by a frame.
type Metadata struct {
	MimeType string `json:"mimeType"`
	XorName  string `json:"xorname"`
}

// EncodeHeader returns the length prefix followed by the metadata JSON.
func EncodeHeader(meta Metadata) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(meta); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	// Encoder terminates every value with a newline that is not part of L.
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	n := len(out) - HeaderSize
	if uint64(n) > math.MaxUint32 {
		return nil, fmt.Errorf("metadata too large: %d bytes", n)
	}
	binary.BigEndian.PutUint32(out[:HeaderSize], uint32(n))
	return out, nil
}

// Encode builds a complete frame for meta and payload.
func Encode(meta Metadata, payload []byte) ([]byte, error) {
	header, err := EncodeHeader(meta)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 0, len(header)+len(payload))
	msg = append(msg, header...)
	msg = append(msg, payload...)
	return msg, nil
}

// Decode splits msg into its metadata and payload. The returned payload
// aliases msg.
func Decode(msg []byte) (Metadata, []byte, error) {
	if len(msg) < HeaderSize {
		return Metadata{}, nil, ErrShortFrame
	}
	n := uint64(binary.BigEndian.Uint32(msg[:HeaderSize]))
	if n > uint64(len(msg)-HeaderSize) {
		return Metadata{}, nil, fmt.Errorf("%w: declared %d, have %d", ErrMetadataOverrun, n, len(msg)-HeaderSize)
	}
	end := HeaderSize + int(n)
	var meta Metadata
	if err := json.Unmarshal(msg[HeaderSize:end], &meta); err != nil {
		return Metadata{}, nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, msg[end:], nil
}
