package llm

import (
	"bufio"
	"io"
	"strings"
)

// scanSSE reads a text/event-stream body line by line, invoking onData
// for each `data: ` payload until `[DONE]` or EOF. Payloads split across
// buffer boundaries are handled by the scanner's growable buffer.
// onData returning a non-nil error aborts the scan.
func scanSSE(body io.Reader, onData func(data string) error) error {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}
		if err := onData(data); err != nil {
			return err
		}
	}
	return scanner.Err()
}
