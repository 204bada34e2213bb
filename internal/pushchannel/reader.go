package pushchannel

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

const (
	maxFrameBytes = 1 << 20
	readBufBytes  = 64 * 1024
)

// frame is one dispatched server-sent event. An oversized frame carries no
// data; the reader skipped it up to the next blank line.
type frame struct {
	name      string
	data      []byte
	oversized bool
}

// readFrames parses a text/event-stream body and calls emit for each frame.
// Comment lines and the id/retry fields are ignored. A line or frame larger
// than maxFrameBytes is discarded without ending the stream. It returns the
// read error that ended the stream, or io.EOF.
func readFrames(r io.Reader, emit func(frame)) error {
	br := bufio.NewReaderSize(r, readBufBytes)

	var name string
	var data bytes.Buffer
	hasData := false
	oversized := false
	dispatch := func() {
		switch {
		case oversized:
			emit(frame{name: name, oversized: true})
		case hasData || name != "":
			emit(frame{name: name, data: append([]byte(nil), data.Bytes()...)})
		}
		name = ""
		data.Reset()
		hasData = false
		oversized = false
	}
	handle := func(line string) {
		if line == "" {
			dispatch()
			return
		}
		if oversized || strings.HasPrefix(line, ":") {
			return
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if data.Len()+len(value)+1 > maxFrameBytes {
				oversized = true
				data.Reset()
				return
			}
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}

	for {
		line, tooLong, err := readLine(br, maxFrameBytes)
		switch {
		case tooLong:
			if !strings.HasPrefix(line, ":") {
				oversized = true
				data.Reset()
			}
		case err == nil || len(line) > 0:
			handle(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed and reported as tooLong; only its first bytes are
// returned.
func readLine(br *bufio.Reader, limit int) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		var chunk []byte
		chunk, err = br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > limit+2 {
				tooLong = true
				buf = append(buf, chunk...)[:min(len(buf)+len(chunk), 16)]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		buf = bytes.TrimSuffix(buf, []byte("\n"))
		buf = bytes.TrimSuffix(buf, []byte("\r"))
		return string(buf), tooLong, err
	}
}
