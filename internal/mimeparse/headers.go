package mimeparse

import (
	"bufio"
	"bytes"
	"strings"
)

const (
	maxHeaderSectionBytes = 64 << 10
	maxHeaderLines        = 1000
	maxHeaderValueBytes   = 8 << 10
)

// ParseHeaders parses only the header section of raw RFC 5322 bytes
// directly, under the defensive limits spec §4.5 requires (used as the
// auth pipeline's input so the rest of the message never needs full MIME
// parsing to succeed). Folded continuation lines are appended with a
// single space. Header names are lowercased; a repeated name overwrites
// the prior value, matching "duplicates overwrite".
func ParseHeaders(raw []byte) (map[string]string, error) {
	headerSection := raw
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx != -1 {
		headerSection = raw[:idx]
	} else if idx := bytes.Index(raw, []byte("\n\n")); idx != -1 {
		headerSection = raw[:idx]
	}
	if len(headerSection) > maxHeaderSectionBytes {
		headerSection = headerSection[:maxHeaderSectionBytes]
	}

	headers := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(headerSection))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	var currentName string
	var currentValue strings.Builder
	lines := 0

	flush := func() {
		if currentName == "" {
			return
		}
		v := currentValue.String()
		if len(v) > maxHeaderValueBytes {
			v = v[:maxHeaderValueBytes]
		}
		headers[strings.ToLower(currentName)] = strings.TrimSpace(v)
		currentName = ""
		currentValue.Reset()
	}

	for scanner.Scan() {
		lines++
		if lines > maxHeaderLines {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if currentName != "" {
				currentValue.WriteByte(' ')
				currentValue.WriteString(strings.TrimSpace(line))
			}
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			continue
		}
		flush()
		currentName = strings.TrimSpace(line[:colon])
		currentValue.WriteString(strings.TrimSpace(line[colon+1:]))
	}
	flush()

	return headers, nil
}
