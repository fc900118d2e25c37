package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

const (
	DefaultGuard        = "INTERCEPTOR_EMBEDDED_H"
	DefaultNamespace    = "EmbeddedInterceptor"
	DefaultSizeName     = "INTERCEPTOR_SIZE"
	DefaultDataName     = "INTERCEPTOR_DATA"
	DefaultBytesPerLine = 12

	sizeComment = "// Size of the embedded interceptor library"
	dataComment = "// Embedded interceptor library data"
	rowIndent   = "    "

	// rows written between context checks
	ctxCheckRows = 4096
)

// ErrInvalidOption is returned when a HeaderEncoder is configured with an
// identifier that is not a valid C identifier or a negative row width.
var ErrInvalidOption = errors.New("encoder: invalid option")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// hexTokens holds "0x00".."0xff".
var hexTokens [256][4]byte

func init() {
	const digits = "0123456789abcdef"
	for i := 0; i < 256; i++ {
		hexTokens[i] = [4]byte{'0', 'x', digits[i>>4], digits[i&0x0f]}
	}
}

// HeaderEncoder renders a binary as a C++ header declaring a byte array and
// its length inside an include guard and a namespace.
//
// Zero-valued fields fall back to the Default* constants, so the zero value
// produces the interceptor header layout.
type HeaderEncoder struct {
	Guard     string
	Namespace string
	SizeName  string
	DataName  string

	// BytesPerLine is the number of array entries per row.
	BytesPerLine int

	// OmitComments drops the two description comments above the size and
	// data declarations.
	OmitComments bool
}

// NewHeaderEncoder returns a HeaderEncoder with every field set to its default.
func NewHeaderEncoder() HeaderEncoder {
	return HeaderEncoder{
		Guard:        DefaultGuard,
		Namespace:    DefaultNamespace,
		SizeName:     DefaultSizeName,
		DataName:     DefaultDataName,
		BytesPerLine: DefaultBytesPerLine,
	}
}

func (e HeaderEncoder) FileExtension() string { return ".h" }

func (e HeaderEncoder) ContentType() string { return "text/x-c++hdr" }

// Validate reports whether the encoder options are usable.
func (e HeaderEncoder) Validate() error {
	e = e.withDefaults()
	for _, f := range []struct{ name, val string }{
		{"guard", e.Guard},
		{"namespace", e.Namespace},
		{"size name", e.SizeName},
		{"data name", e.DataName},
	} {
		if !identRe.MatchString(f.val) {
			return fmt.Errorf("%w: %s %q is not a C identifier", ErrInvalidOption, f.name, f.val)
		}
	}
	if e.BytesPerLine < 0 {
		return fmt.Errorf("%w: bytes per line must be positive, got %d", ErrInvalidOption, e.BytesPerLine)
	}
	return nil
}

func (e HeaderEncoder) withDefaults() HeaderEncoder {
	if e.Guard == "" {
		e.Guard = DefaultGuard
	}
	if e.Namespace == "" {
		e.Namespace = DefaultNamespace
	}
	if e.SizeName == "" {
		e.SizeName = DefaultSizeName
	}
	if e.DataName == "" {
		e.DataName = DefaultDataName
	}
	if e.BytesPerLine == 0 {
		e.BytesPerLine = DefaultBytesPerLine
	}
	return e
}

// EncodedLen returns the exact number of bytes Encode produces for an input
// of n bytes.
func (e HeaderEncoder) EncodedLen(n int) int {
	e = e.withDefaults()

	fixed := len(e.prologue(n)) + len(e.epilogue())
	if n == 0 {
		return fixed
	}
	rows := (n + e.BytesPerLine - 1) / e.BytesPerLine
	// "0xNN" per entry, ", " between entries in a row, "," after each
	// non-final row, indent and newline per row.
	return fixed + 4*n + 2*(n-rows) + (rows - 1) + rows*(len(rowIndent)+1)
}

// Encode returns the complete header text for data.
func (e HeaderEncoder) Encode(ctx context.Context, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(e.EncodedLen(len(data)))
	if err := e.EncodeTo(ctx, data, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo streams the header text for data into w.
func (e HeaderEncoder) EncodeTo(ctx context.Context, data []byte, w io.Writer) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := e.Validate(); err != nil {
		return err
	}
	e = e.withDefaults()

	bw := bufio.NewWriterSize(w, 64*1024)

	if _, err := bw.WriteString(e.prologue(len(data))); err != nil {
		return err
	}

	perLine := e.BytesPerLine
	for row, i := 0, 0; i < len(data); row, i = row+1, i+perLine {
		if ctx != nil && row%ctxCheckRows == ctxCheckRows-1 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		end := i + perLine
		if end > len(data) {
			end = len(data)
		}

		bw.WriteString(rowIndent)
		for j, b := range data[i:end] {
			if j > 0 {
				bw.WriteString(", ")
			}
			bw.Write(hexTokens[b][:])
		}
		if end < len(data) {
			bw.WriteByte(',')
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}

	if _, err := bw.WriteString(e.epilogue()); err != nil {
		return err
	}
	return bw.Flush()
}

func (e HeaderEncoder) prologue(n int) string {
	var b bytes.Buffer
	b.WriteString("#ifndef " + e.Guard + "\n")
	b.WriteString("#define " + e.Guard + "\n\n")
	b.WriteString("#include <cstddef>\n\n")
	b.WriteString("namespace " + e.Namespace + " {\n\n")
	if !e.OmitComments {
		b.WriteString(sizeComment + "\n")
	}
	b.WriteString("const size_t " + e.SizeName + " = " + strconv.Itoa(n) + ";\n\n")
	if !e.OmitComments {
		b.WriteString(dataComment + "\n")
	}
	b.WriteString("const unsigned char " + e.DataName + "[] = {\n")
	return b.String()
}

func (e HeaderEncoder) epilogue() string {
	return "};\n\n" +
		"} // namespace " + e.Namespace + "\n\n" +
		"#endif // " + e.Guard + "\n"
}
