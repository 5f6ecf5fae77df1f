package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

/*
The log file is a 4 byte checksum over the payloads of every record, followed by the records
and possibly a torn tail left by a crash:

    [checksum(4)] [record] ... [record] [bad tail]

Each record is:

    [size(4)] [checksum(4)] [payload(size)]
*/

const (
	FileName = "mdb.log"

	seed = 16191

	headerLength = 4

	sizeOffset     = 0
	checksumOffset = sizeOffset + 4
	payloadOffset  = checksumOffset + 4
)

var (
	ErrBadLogFile = errors.New("wal: bad log file")
)

type Log struct {
	mutex    sync.Mutex
	f        *os.File
	readPos  int64
	writePos int64
	checksum uint32
	logger   *log.Logger
}

func checksum(sum uint32, buf []byte) uint32 {
	for _, b := range buf {
		sum = sum*seed + uint32(b)
	}
	return sum
}

func Create(dir string, logger *log.Logger) (*Log, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	var hdr [headerLength]byte
	_, err = f.WriteAt(hdr[:], 0)
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Log{
		f:        f,
		readPos:  headerLength,
		writePos: headerLength,
		logger:   logger,
	}, nil
}

// Open validates the log and truncates any tail which was not covered by the checksum in
// the header when the log was last written.
func Open(dir string, logger *log.Logger) (*Log, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	wal := &Log{
		f:      f,
		logger: logger,
	}
	err = wal.checkAndRemoveTail()
	if err != nil {
		f.Close()
		return nil, err
	}
	return wal, nil
}

func (wal *Log) checkAndRemoveTail() error {
	fi, err := wal.f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size < headerLength {
		return fmt.Errorf("%w: length %d", ErrBadLogFile, size)
	}

	var hdr [headerLength]byte
	_, err = wal.f.ReadAt(hdr[:], 0)
	if err != nil {
		return err
	}
	wal.checksum = binary.BigEndian.Uint32(hdr[:])

	var sum uint32
	good := int64(-1)
	if wal.checksum == 0 {
		good = headerLength
	}

	wal.readPos = headerLength
	wal.writePos = size
	for {
		payload, err := wal.next()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		sum = checksum(sum, payload)
		if sum == wal.checksum {
			good = wal.readPos
		}
	}

	if good < 0 {
		return fmt.Errorf("%w: checksum mismatch", ErrBadLogFile)
	}

	if good < size {
		wal.logger.WithFields(log.Fields{
			"length":   size,
			"truncate": good,
		}).Warn("wal: truncating bad tail")

		err = wal.f.Truncate(good)
		if err != nil {
			return err
		}
	}

	wal.readPos = headerLength
	wal.writePos = good
	return nil
}

// next reads the record at readPos; a short or corrupt record is treated as the end.
func (wal *Log) next() ([]byte, error) {
	if wal.readPos+payloadOffset > wal.writePos {
		return nil, io.EOF
	}

	var hdr [payloadOffset]byte
	_, err := wal.f.ReadAt(hdr[:], wal.readPos)
	if err != nil {
		return nil, err
	}
	size := int64(binary.BigEndian.Uint32(hdr[sizeOffset:]))
	if wal.readPos+payloadOffset+size > wal.writePos {
		return nil, io.EOF
	}

	payload := make([]byte, size)
	_, err = wal.f.ReadAt(payload, wal.readPos+payloadOffset)
	if err != nil {
		return nil, err
	}
	if checksum(0, payload) != binary.BigEndian.Uint32(hdr[checksumOffset:]) {
		return nil, io.EOF
	}

	wal.readPos += payloadOffset + size
	return payload, nil
}

// Next returns the payload of the next well formed record, or io.EOF.
func (wal *Log) Next() ([]byte, error) {
	wal.mutex.Lock()
	defer wal.mutex.Unlock()

	return wal.next()
}

func (wal *Log) Rewind() {
	wal.mutex.Lock()
	defer wal.mutex.Unlock()

	wal.readPos = headerLength
}

// Append durably writes a record containing payload, followed by the updated checksum in
// the header.
func (wal *Log) Append(payload []byte) error {
	buf := make([]byte, payloadOffset+len(payload))
	binary.BigEndian.PutUint32(buf[sizeOffset:], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[checksumOffset:], checksum(0, payload))
	copy(buf[payloadOffset:], payload)

	wal.mutex.Lock()
	defer wal.mutex.Unlock()

	_, err := wal.f.WriteAt(buf, wal.writePos)
	if err == nil {
		err = wal.f.Sync()
	}
	if err != nil {
		return err
	}
	wal.writePos += int64(len(buf))

	wal.checksum = checksum(wal.checksum, payload)
	var hdr [headerLength]byte
	binary.BigEndian.PutUint32(hdr[:], wal.checksum)
	_, err = wal.f.WriteAt(hdr[:], 0)
	if err != nil {
		return err
	}
	return wal.f.Sync()
}

func (wal *Log) Sync() error {
	wal.mutex.Lock()
	defer wal.mutex.Unlock()

	return wal.f.Sync()
}

func (wal *Log) Close() error {
	return wal.f.Close()
}
