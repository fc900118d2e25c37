// Command headercheck verifies that a generated header embeds a given binary
// and matches what embedgen would write for it today.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/baldanca/embedgen/encoder"
)

var errMismatch = errors.New("header does not match binary")

type checkOptions struct {
	perLine    int
	noComments bool
}

func main() {
	var (
		binaryPath = flag.String("binary", "", "path to the shared library")
		headerPath = flag.String("header", "", "path to the generated header")
		perLine    = flag.Int("per-line", encoder.DefaultBytesPerLine, "array entries per row used when generating")
		noComments = flag.Bool("no-comments", false, "header was generated without description comments")
	)
	flag.Parse()

	if *binaryPath == "" || *headerPath == "" {
		fmt.Fprintln(os.Stderr, "usage: headercheck -binary <input.so> -header <output.h>")
		os.Exit(2)
	}

	bin, err := os.ReadFile(*binaryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "headercheck: %v\n", err)
		os.Exit(1)
	}
	hdr, err := os.ReadFile(*headerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "headercheck: %v\n", err)
		os.Exit(1)
	}

	err = check(os.Stdout, bin, hdr, *headerPath, checkOptions{perLine: *perLine, noComments: *noComments})
	if err != nil {
		fmt.Fprintf(os.Stderr, "headercheck: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ok: %s embeds %d bytes\n", *headerPath, len(bin))
}

// check decodes header, compares the embedded bytes with bin and then diffs
// header against a freshly generated one. Differences are written to out.
func check(out io.Writer, bin, header []byte, name string, opts checkOptions) error {
	dec, err := encoder.Decode(header)
	if err != nil {
		return err
	}
	if !bytes.Equal(dec.Data, bin) {
		return fmt.Errorf("%w: embedded %d bytes, binary has %d (first difference at offset %d)",
			errMismatch, len(dec.Data), len(bin), firstDiff(dec.Data, bin))
	}

	enc := encoder.HeaderEncoder{
		Guard:        dec.Guard,
		Namespace:    dec.Namespace,
		SizeName:     dec.SizeName,
		DataName:     dec.DataName,
		BytesPerLine: opts.perLine,
		OmitComments: opts.noComments,
	}
	want, err := enc.Encode(context.Background(), bin)
	if err != nil {
		return err
	}
	if bytes.Equal(want, header) {
		return nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(want)),
		B:        difflib.SplitLines(string(header)),
		FromFile: "generated",
		ToFile:   name,
		Context:  3,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(out, diff)
	return fmt.Errorf("%w: layout differs", errMismatch)
}

func firstDiff(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
