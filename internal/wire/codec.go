// Package wire implements the local-mode framed message codec:
// self-describing control records terminated by a 4-null-byte delimiter,
// interleaved with byte-exact opaque payload runs.
package wire

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/arjunv/filepipe/pkg/models"
)

// Delimiter terminates every control record on the wire.
var Delimiter = []byte{0x00, 0x00, 0x00, 0x00}

const readChunk = 4096

// EncodeControl serialises rec to its self-describing wire form, including
// the trailing delimiter.
func EncodeControl(rec models.ControlRecord) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, models.NewError(models.ErrMalformedFrame, err)
	}
	out := make([]byte, 0, len(body)+len(Delimiter))
	out = append(out, body...)
	out = append(out, Delimiter...)
	return out, nil
}

// Stream wraps a byte stream (typically a net.Conn) with a two-mode
// codec: ReadControl operates in control mode,
// ReadPayload operates in payload mode. The codec owns the accumulation
// buffer so payload bytes are never mistaken for delimiter bytes and
// vice versa, regardless of how the underlying transport chunks
// its reads.
type Stream struct {
	r   io.Reader
	w   io.Writer
	buf []byte // bytes read from r but not yet consumed by a Read* call
}

// NewStream wraps rw for framed control/payload exchange.
func NewStream(rw io.ReadWriter) *Stream {
	return &Stream{r: rw, w: rw}
}

// WriteControl encodes and writes rec.
func (s *Stream) WriteControl(rec models.ControlRecord) error {
	raw, err := EncodeControl(rec)
	if err != nil {
		return err
	}
	_, err = s.w.Write(raw)
	return err
}

// ReadControl reads and decodes the next control record, blocking until a
// full delimiter-terminated record is available. Returns io.EOF only if
// the stream closed with no partial frame buffered.
func (s *Stream) ReadControl() (models.ControlRecord, error) {
	for {
		if idx := bytes.Index(s.buf, Delimiter); idx >= 0 {
			frame := s.buf[:idx]
			s.buf = s.buf[idx+len(Delimiter):]
			var rec models.ControlRecord
			if err := json.Unmarshal(frame, &rec); err != nil {
				return models.ControlRecord{}, models.NewError(models.ErrMalformedFrame, err)
			}
			return rec, nil
		}

		chunk := make([]byte, readChunk)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
			continue // a delimiter may now be present; re-scan before honoring err
		}
		if err != nil {
			if err == io.EOF && len(s.buf) == 0 {
				return models.ControlRecord{}, io.EOF
			}
			if err == io.EOF {
				return models.ControlRecord{}, models.NewError(models.ErrMalformedFrame, io.ErrUnexpectedEOF)
			}
			return models.ControlRecord{}, err
		}
	}
}

// WritePayload writes p verbatim in payload mode. Callers must only use
// this between control records that both sides agree delimit a payload
// run (e.g. immediately after a metadata{} record), since the bytes
// written here are never delimiter-scanned.
func (s *Stream) WritePayload(p []byte) (int, error) {
	return s.w.Write(p)
}

// ReadPayload copies exactly length opaque bytes from the stream into w,
// never interpreting them as control-frame content. It returns
// TRUNCATED_PAYLOAD if the stream ends before length bytes are seen.
func (s *Stream) ReadPayload(w io.Writer, length int64) (int64, error) {
	var written int64

	if len(s.buf) > 0 && length > 0 {
		n := int64(len(s.buf))
		if n > length {
			n = length
		}
		if n > 0 {
			if _, err := w.Write(s.buf[:n]); err != nil {
				return written, err
			}
			written += n
			s.buf = s.buf[n:]
		}
	}

	for written < length {
		remaining := length - written
		size := remaining
		if size > readChunk {
			size = readChunk
		}
		chunk := make([]byte, size)
		n, err := s.r.Read(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if err != nil {
			if written < length {
				if err == io.EOF {
					return written, models.NewError(models.ErrTruncatedPayload, io.ErrUnexpectedEOF)
				}
				return written, err
			}
		}
	}

	return written, nil
}
