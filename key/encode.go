package key

import (
	"strconv"
	"strings"
)

// Encode returns the canonical string of p.
//
// Top-level text is returned as is, unless it could be read back as the
// encoding of some other part (it starts with '[', '{' or '"', or it spells a
// bool, null or number); such text is quoted. Everything else is written in a
// JSON-like form with map keys sorted. An absent part encodes to "".
func Encode(p Part) string {
	if p.kind == KindText && !ambiguous(p.s) {
		return p.s
	}
	var b strings.Builder
	write(&b, p)
	return b.String()
}

func ambiguous(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '[', '{', '"':
		return true
	}
	switch s {
	case "true", "false", "null":
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func write(b *strings.Builder, p Part) {
	switch p.kind {
	case KindInvalid:
		// absent
	case KindText:
		b.WriteString(strconv.Quote(p.s))
	case KindInt:
		b.WriteString(strconv.FormatInt(p.i, 10))
	case KindUint:
		b.WriteString(strconv.FormatUint(p.u, 10))
	case KindFloat:
		b.WriteString(strconv.FormatFloat(p.f, 'g', -1, 64))
	case KindBool:
		b.WriteString(strconv.FormatBool(p.b))
	case KindNull:
		b.WriteString("null")
	case KindList:
		b.WriteByte('[')
		for i, e := range p.list {
			if i > 0 {
				b.WriteByte(',')
			}
			write(b, e)
		}
		b.WriteByte(']')
	case KindMap:
		b.WriteByte('{')
		for i, k := range p.Keys() {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			write(b, p.m[k])
		}
		b.WriteByte('}')
	}
}
