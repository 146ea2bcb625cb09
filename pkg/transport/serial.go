package transport

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// Serial wraps a real serial port as a TxSink/RxSource pair. Reads are
// bounded by a short read timeout so Read never blocks the node loop for
// long; whatever arrived within the timeout is returned.
type Serial struct {
	port *serial.Port
	buf  []byte
}

// OpenSerial opens name at baud with a bounded per-read timeout.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*Serial, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout})
	if err != nil {
		return nil, err
	}
	return &Serial{port: port, buf: make([]byte, 4096)}, nil
}

func (s *Serial) Write(data []byte) (int, error) {
	return s.port.Write(data)
}

func (s *Serial) Read() ([]byte, error) {
	n, err := s.port.Read(s.buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out, nil
}

func (s *Serial) Close() error {
	return s.port.Close()
}
