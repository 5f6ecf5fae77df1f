package server

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

/*
A frame is a length prefixed message:

    [length(4)] [flag(1)] [payload]

The length counts the flag and the payload. A flag of 0 is a statement or its result; a flag
of 1 is an error message.
*/

const (
	flagData  = 0
	flagError = 1

	maxFrame = 1 << 24
)

var (
	ErrBadFrame = errors.New("server: bad frame")
)

// RemoteError is an error message returned by the other end of a connection.
type RemoteError string

func (re RemoteError) Error() string {
	return string(re)
}

func writeFrame(w *bufio.Writer, flag byte, payload []byte) error {
	if len(payload)+1 > maxFrame {
		return fmt.Errorf("%w: length %d", ErrBadFrame, len(payload)+1)
	}

	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)+1))
	hdr[4] = flag
	_, err := w.Write(hdr[:])
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	if err != nil {
		return err
	}
	return w.Flush()
}

// WriteData writes a data frame.
func WriteData(w *bufio.Writer, data []byte) error {
	return writeFrame(w, flagData, data)
}

// WriteError writes an error frame carrying the message of err.
func WriteError(w *bufio.Writer, err error) error {
	return writeFrame(w, flagError, []byte(err.Error()))
}

// ReadFrame returns the payload of the next frame; an error frame is returned as a
// RemoteError. io.EOF is returned only if the connection ends between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrame {
		return nil, fmt.Errorf("%w: length %d", ErrBadFrame, n)
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(r, buf)
	if err == io.EOF {
		return nil, io.ErrUnexpectedEOF
	} else if err != nil {
		return nil, err
	}

	switch buf[0] {
	case flagData:
		return buf[1:], nil
	case flagError:
		return nil, RemoteError(buf[1:])
	}
	return nil, fmt.Errorf("%w: flag %d", ErrBadFrame, buf[0])
}
