package export

import (
	"fmt"
	"strings"
)

const maxFilenameLen = 50

func isUnreserved(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' ||
		b == '-' || b == '_' || b == '.' || b == '~'
}

// percentEncodeForDataURL escapes every byte outside the RFC 3986 unreserved set.
func percentEncodeForDataURL(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// sanitizeFilename keeps ASCII letters, digits, '-' and '_' from a board name
// and turns spaces into dashes.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for i := 0; i < len(name) && b.Len() < maxFilenameLen; i++ {
		c := name[i]
		switch {
		case c == ' ':
			b.WriteByte('-')
		case c != '.' && c != '~' && isUnreserved(c):
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return "board"
	}
	return b.String()
}
