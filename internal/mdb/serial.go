package mdb

import (
	"strings"
	"time"

	"github.com/itbees/mdbctl/internal/logger"
	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// SerialLink is the real ASCII bridge port. It opens a byte channel at a
// fixed line speed with a read timeout, and exposes line-oriented
// send/receive: WriteLine appends a CR terminator and yields briefly to let
// USB-serial bridges drain, ReadLine returns the empty string on timeout
// rather than failing. Close is idempotent.
type SerialLink struct {
	port        *serial.Port
	readTimeout time.Duration
	writePause  time.Duration
	buf         []byte
	log         *zap.Logger
}

// OpenSerialLink opens port at baud with the given read timeout and
// post-write pause, matching the teacher's tarm/serial.OpenPort idiom.
func OpenSerialLink(portName string, baud int, readTimeout, writePause time.Duration) (*SerialLink, error) {
	cfg := &serial.Config{
		Name:        portName,
		Baud:        baud,
		ReadTimeout: readTimeout,
	}

	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}

	return &SerialLink{
		port:        port,
		readTimeout: readTimeout,
		writePause:  writePause,
		log:         logger.GetModuleLogger("serial"),
	}, nil
}

// WriteLine writes line plus a CR terminator, then pauses briefly to let the
// bridge drain before the caller issues a read.
func (l *SerialLink) WriteLine(line string) error {
	_, err := l.port.Write([]byte(line + "\r"))
	if err != nil {
		l.log.Warn("serial write failed", zap.String("line", line), zap.Error(err))
		return err
	}
	time.Sleep(l.writePause)
	return nil
}

// ReadLine returns the next CR/LF-terminated line, stripped of surrounding
// whitespace, or "" if none arrives within the link's read timeout.
func (l *SerialLink) ReadLine() (string, error) {
	deadline := time.Now().Add(l.readTimeout)
	chunk := make([]byte, 128)

	for time.Now().Before(deadline) {
		n, err := l.port.Read(chunk)
		if err != nil {
			return "", err
		}
		if n > 0 {
			l.buf = append(l.buf, chunk[:n]...)
			if idx := indexAny(l.buf, "\r\n"); idx >= 0 {
				line := strings.TrimSpace(string(l.buf[:idx]))
				l.buf = l.buf[idx+1:]
				return line, nil
			}
		}
	}

	return "", nil
}

func indexAny(buf []byte, chars string) int {
	for i, b := range buf {
		if strings.IndexByte(chars, b) >= 0 {
			return i
		}
	}
	return -1
}

// Close closes the underlying port. Safe to call more than once.
func (l *SerialLink) Close() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}
