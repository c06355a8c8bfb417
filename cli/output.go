package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type formatter struct {
	Format    string
	Verbose   bool
	Writer    io.Writer
	ErrWriter io.Writer
}

func newFormatter(opts *RootOptions, out, errOut io.Writer) *formatter {
	return &formatter{Format: opts.Format, Verbose: opts.Verbose, Writer: out, ErrWriter: errOut}
}

// Success writes data as a JSON envelope, or runs text when the format is text.
func (f *formatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(response{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

func (f *formatter) Error(err error) {
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(response{Status: "error", Error: err.Error()})
		return
	}
	fmt.Fprintf(f.ErrWriter, "Error: %v\n", err)
}

// Logf goes to ErrWriter so JSON output stays parseable.
func (f *formatter) Logf(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.ErrWriter, format+"\n", args...)
}

// table writes tab-aligned rows under header.
func table(w io.Writer, header []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}
