package provider

import (
	"bufio"
	"bytes"
	"io"
	"iter"
)

// Events yields the data payload of each server-sent event read from r. It
// stops at EOF or at a "[DONE]" payload. Lines are read without a length cap
// because image responses carry base64 payloads of several megabytes.
func Events(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		reader := bufio.NewReader(r)
		var data []byte
		pending := false

		flush := func() bool {
			if !pending {
				return true
			}
			payload := data
			data, pending = nil, false
			if bytes.Equal(payload, []byte("[DONE]")) {
				return false
			}
			return yield(payload, nil)
		}

		for {
			line, err := reader.ReadBytes('\n')
			line = bytes.TrimRight(line, "\r\n")

			switch {
			case len(line) == 0:
				if !flush() {
					return
				}
			case bytes.HasPrefix(line, []byte("data:")):
				v := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
				if pending {
					data = append(data, '\n')
				}
				data = append(data, v...)
				pending = true
			}

			if err != nil {
				if err != io.EOF {
					yield(nil, err)
					return
				}
				flush()
				return
			}
		}
	}
}
