package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/zhubert/taskspace/apperr"
)

type glyphs struct {
	ok, fail, skip, warn string
}

var (
	unicodeGlyphs = glyphs{ok: "✓", fail: "✗", skip: "○", warn: "!"}
	asciiGlyphs   = glyphs{ok: "ok", fail: "FAIL", skip: "-", warn: "WARN"}
)

// glyphsFor picks unicode marks when w is a terminal and plain words when
// output is piped.
func glyphsFor(w io.Writer) glyphs {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return unicodeGlyphs
	}
	return asciiGlyphs
}

// ReportError writes err to w in the form
//
//	Error: <message>
//	Hint: <remediation>
//
// With verbose set the error kind and every wrapped layer follow.
func ReportError(w io.Writer, err error, verbose bool) {
	if err == nil {
		return
	}

	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" && !verbose {
		msg = ae.Message
	}
	fmt.Fprintf(w, "Error: %s\n", msg)
	if ae != nil && !verbose {
		if out := strings.TrimSpace(ae.Output); out != "" {
			fmt.Fprintf(w, "%s\n", out)
		}
	}

	if hint := apperr.HintOf(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
	if !verbose {
		return
	}

	fmt.Fprintf(w, "Kind: %s\n", apperr.KindOf(err))
	for depth, e := 1, errors.Unwrap(err); e != nil; depth, e = depth+1, errors.Unwrap(e) {
		fmt.Fprintf(w, "  %d: %s\n", depth, e)
	}
}
