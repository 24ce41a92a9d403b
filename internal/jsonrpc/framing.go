package jsonrpc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize bounds a single frame in either framing.
const maxFrameSize = 16 * 1024 * 1024

// Framing reads and writes whole JSON-RPC messages over a byte stream.
type Framing interface {
	ReadMessage() (*Message, error)
	WriteMessage(*Message) error
}

// lineFraming is one JSON object per LF-terminated line.
type lineFraming struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer
}

// NewLineFraming builds the newline-delimited codec.
func NewLineFraming(r io.Reader, w io.Writer) Framing {
	return &lineFraming{r: bufio.NewReaderSize(r, 64*1024), w: w}
}

func (f *lineFraming) ReadMessage() (*Message, error) {
	line, err := f.r.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return nil, err
	}
	var msg Message
	if uerr := json.Unmarshal(line, &msg); uerr != nil {
		return nil, &Error{Code: CodeParseError, Message: uerr.Error()}
	}
	return &msg, nil
}

func (f *lineFraming) WriteMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if _, err := f.w.Write(data); err != nil {
		return err
	}
	_, err = f.w.Write([]byte{'\n'})
	return err
}

// prefixFraming is a 32-bit big-endian byte count followed by that many
// bytes of UTF-8 JSON.
type prefixFraming struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer
}

// NewPrefixFraming builds the length-prefixed codec.
func NewPrefixFraming(r io.Reader, w io.Writer) Framing {
	return &prefixFraming{r: bufio.NewReaderSize(r, 64*1024), w: w}
}

func (f *prefixFraming) ReadMessage() (*Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(f.r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("frame size %d out of range", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, &Error{Code: CodeParseError, Message: err.Error()}
	}
	return &msg, nil
}

func (f *prefixFraming) WriteMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame size %d out of range", len(data))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if _, err := f.w.Write(header[:]); err != nil {
		return err
	}
	_, err = f.w.Write(data)
	return err
}

// Detect sniffs the first byte of a connection and returns the framing
// the client chose. A leading '{' means newline-delimited JSON; any
// other first byte is read as a length prefix. The sniffed byte is not
// consumed.
func Detect(r io.Reader, w io.Writer) (Framing, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	first, err := br.Peek(1)
	if err != nil {
		return nil, err
	}
	if first[0] == '{' {
		return &lineFraming{r: br, w: w}, nil
	}
	return &prefixFraming{r: br, w: w}, nil
}
