package offsets

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

// ErrPatternMismatch is returned when the code at a site does not look
// like the build it was configured for.
var ErrPatternMismatch = errors.New("byte pattern mismatch")

const wildcard = "??"

// Pattern 字节模式，"??"匹配任意字节
type Pattern struct {
	bytes []byte
	any   []bool
}

// ParsePattern parses hex bytes and "??" wildcards. Bytes may be separated
// by blanks or written back to back, as in "8BF9E8????????".
func ParsePattern(s string) (Pattern, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return Pattern{}, errors.New("empty pattern")
	}
	if len(s)%2 != 0 {
		return Pattern{}, fmt.Errorf("pattern %q: odd number of digits", s)
	}

	var p Pattern
	for i := 0; i < len(s); i += 2 {
		tok := s[i : i+2]
		if tok == wildcard {
			p.bytes = append(p.bytes, 0)
			p.any = append(p.any, true)
			continue
		}
		b, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return Pattern{}, fmt.Errorf("pattern %q: bad byte %q", s, tok)
		}
		p.bytes = append(p.bytes, byte(b))
		p.any = append(p.any, false)
	}
	return p, nil
}

// Len returns the pattern length in bytes.
func (p Pattern) Len() int {
	return len(p.bytes)
}

// Wildcard reports whether byte i matches anything.
func (p Pattern) Wildcard(i int) bool {
	return p.any[i]
}

// Match reports whether data starts with the pattern.
func (p Pattern) Match(data []byte) bool {
	if len(data) < len(p.bytes) {
		return false
	}
	for i, b := range p.bytes {
		if !p.any[i] && data[i] != b {
			return false
		}
	}
	return true
}

// Index returns the offset of the first match in data, or -1.
func (p Pattern) Index(data []byte) int {
	for i := 0; i+len(p.bytes) <= len(data); i++ {
		if p.Match(data[i:]) {
			return i
		}
	}
	return -1
}

func (p Pattern) String() string {
	parts := make([]string, len(p.bytes))
	for i, b := range p.bytes {
		if p.any[i] {
			parts[i] = wildcard
		} else {
			parts[i] = fmt.Sprintf("%02X", b)
		}
	}
	return strings.Join(parts, " ")
}

// Verify checks that the code around the site matches its pattern.
func Verify(r memory.Reader, base memory.Address, site Site) error {
	p, err := ParsePattern(site.Pattern)
	if err != nil {
		return err
	}
	start := site.Address(base).Add(-int64(site.Index))
	data, err := r.ReadMemory(start, p.Len())
	if err != nil {
		return fmt.Errorf("site %s: %w", site.Name, err)
	}
	if !p.Match(data) {
		return fmt.Errorf("site %s at %v: found % X, want %v: %w", site.Name, site.Address(base), data, p, ErrPatternMismatch)
	}
	return nil
}
