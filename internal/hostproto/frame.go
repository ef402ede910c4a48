// Package hostproto implements the framed CBOR protocol a host process uses
// to reach the gateway over a pair of byte streams.
//
// Every frame is a 4-byte big-endian length followed by that many bytes of
// CBOR. Requests are arrays whose first element names the operation:
//
//	["apply_params", script, params]
//	["eval_phase_two", tx, [[input, output], ...], cost_models / null, [mem, cpu], [zero_time, zero_slot, slot_length]]
//	["eval_with_phase_one", tx, [[input, output], ...], cost_models / null, [mem, cpu], [zero_time, zero_slot, slot_length]]
//
// Responses are ["ok", payload], ["error", reason] or ["badarg", reason].
// "badarg" means the request itself was malformed and is never the outcome
// of an evaluation.
package hostproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const frameHeaderSize = 4

// ErrFrameTooLarge is returned for a frame over the size limit. The frame body
// has been consumed, so the stream stays usable.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ReadFrame reads one frame. It returns io.EOF only when the stream ends
// cleanly between frames.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxSize {
		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
			return nil, noEOF(err)
		}
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, noEOF(err)
	}
	return body, nil
}

// WriteFrame writes body as one frame.
func WriteFrame(w io.Writer, body []byte) error {
	if uint64(len(body)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// noEOF turns an EOF inside a frame into io.ErrUnexpectedEOF.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
