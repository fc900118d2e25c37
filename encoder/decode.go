package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrMalformedHeader is returned when Decode cannot find the size or data
	// declarations.
	ErrMalformedHeader = errors.New("encoder: malformed header")
	// ErrSizeMismatch is returned when the declared size differs from the
	// number of array entries.
	ErrSizeMismatch = errors.New("encoder: size mismatch")
)

var (
	guardRe     = regexp.MustCompile(`(?m)^#ifndef\s+([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	namespaceRe = regexp.MustCompile(`(?m)^namespace\s+([A-Za-z_][A-Za-z0-9_]*)\s*\{`)
	sizeRe      = regexp.MustCompile(`const\s+size_t\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([0-9]+)\s*;`)
	dataRe      = regexp.MustCompile(`const\s+unsigned\s+char\s+([A-Za-z_][A-Za-z0-9_]*)\s*\[\s*\]\s*=\s*\{`)
	tokenRe     = regexp.MustCompile(`0[xX]([0-9a-fA-F]{1,2})\b`)
)

// Decoded is the content recovered from a generated header.
type Decoded struct {
	Guard     string
	Namespace string
	SizeName  string
	DataName  string
	Size      int
	Data      []byte
}

// Decode parses a header produced by HeaderEncoder and returns the embedded
// bytes. The declared size must match the number of array entries.
func Decode(text []byte) (Decoded, error) {
	var d Decoded

	if m := guardRe.FindSubmatch(text); m != nil {
		d.Guard = string(m[1])
	}
	if m := namespaceRe.FindSubmatch(text); m != nil {
		d.Namespace = string(m[1])
	}

	sm := sizeRe.FindSubmatch(text)
	if sm == nil {
		return d, fmt.Errorf("%w: size declaration not found", ErrMalformedHeader)
	}
	d.SizeName = string(sm[1])
	size, err := strconv.Atoi(string(sm[2]))
	if err != nil {
		return d, fmt.Errorf("%w: size %q: %v", ErrMalformedHeader, sm[2], err)
	}
	d.Size = size

	loc := dataRe.FindSubmatchIndex(text)
	if loc == nil {
		return d, fmt.Errorf("%w: data declaration not found", ErrMalformedHeader)
	}
	d.DataName = string(text[loc[2]:loc[3]])

	body := text[loc[1]:]
	end := bytes.Index(body, []byte("};"))
	if end < 0 {
		return d, fmt.Errorf("%w: unterminated array literal", ErrMalformedHeader)
	}
	body = body[:end]

	tokens := tokenRe.FindAllSubmatch(body, -1)
	d.Data = make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		v, err := strconv.ParseUint(string(tok[1]), 16, 8)
		if err != nil {
			return d, fmt.Errorf("%w: token %q: %v", ErrMalformedHeader, tok[0], err)
		}
		d.Data = append(d.Data, byte(v))
	}

	if len(d.Data) != d.Size {
		return d, fmt.Errorf("%w: declared %d, found %d entries", ErrSizeMismatch, d.Size, len(d.Data))
	}
	return d, nil
}
