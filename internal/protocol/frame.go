/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// HeaderSize is the length of the big-endian frame length prefix
	HeaderSize = 4
	// DefaultMaxMessageSize bounds the payload of a single frame
	DefaultMaxMessageSize = 1024
)

// WriteFrame writes payload prefixed with its 4-byte big-endian length in a single write
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("frame payload of %d bytes exceeds header capacity", len(payload))
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame. It returns io.EOF, unwrapped, when the
// peer closed the stream before sending any byte. A header announcing more
// than maxSize bytes yields ErrMessageTooLarge without reading the payload.
// Truncated frames wrap ErrDecode.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame header", ErrDecode)
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes announced, limit is %d", ErrMessageTooLarge, size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame, expected %d bytes", ErrDecode, size)
		}
		return nil, err
	}
	return payload, nil
}

// WriteRequest encodes and frames req
func WriteRequest(w io.Writer, req Request) error {
	payload, err := MarshalRequest(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadRequest reads one frame and decodes it as a request
func ReadRequest(r io.Reader, maxSize int) (Request, error) {
	payload, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return UnmarshalRequest(payload)
}

// WriteResponse encodes and frames resp
func WriteResponse(w io.Writer, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReadResponse reads one frame and decodes it as a response
func ReadResponse(r io.Reader, maxSize int) (Response, error) {
	payload, err := ReadFrame(r, maxSize)
	if err != nil {
		return Response{}, err
	}
	return UnmarshalResponse(payload)
}
