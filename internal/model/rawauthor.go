// internal/model/rawauthor.go
package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
)

// RawAuthorID returns the content-addressed key of a commit's raw
// (name, email) identity.
//
// The key is the hex SHA-1 of the JSON object {"email":…,"name":…} written
// with sorted keys, no whitespace and ASCII-only escapes. Absent values are
// written as null. The format is part of the stored data: changing it
// splits identical identities into separate rows.
func RawAuthorID(name, email any) string {
	var b strings.Builder
	b.WriteString(`{"email":`)
	writeCanonical(&b, email)
	b.WriteString(`,"name":`)
	writeCanonical(&b, name)
	b.WriteString(`}`)
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v any) {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			b.WriteString("null")
			return
		}
		s = fmt.Sprint(v)
	}
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r >= 0x7f && r <= 0xffff):
				fmt.Fprintf(b, `\u%04x`, r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
