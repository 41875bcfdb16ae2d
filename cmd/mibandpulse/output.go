package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Printer writes command results as colored text lines or as one JSON object per line.
type Printer struct {
	w      io.Writer
	asJSON bool

	label *color.Color
	value *color.Color
	alert *color.Color
}

func NewPrinter(w io.Writer, format string) *Printer {
	p := &Printer{
		w:      w,
		asJSON: format == "json",
		label:  color.New(color.FgCyan),
		value:  color.New(color.FgWhite, color.Bold),
		alert:  color.New(color.FgRed, color.Bold),
	}
	if !isTerminal(w) {
		p.label.DisableColor()
		p.value.DisableColor()
		p.alert.DisableColor()
	}
	return p
}

// JSON reports whether results are printed as JSON lines.
func (p *Printer) JSON() bool { return p.asJSON }

// Emit prints v as a JSON line, or text when printing text.
func (p *Printer) Emit(v any, text string) error {
	if p.asJSON {
		return json.NewEncoder(p.w).Encode(v)
	}
	_, err := fmt.Fprintln(p.w, text)
	return err
}

// Field renders an aligned "label: value" text line.
func (p *Printer) Field(label string, value any) string {
	return p.label.Sprintf("%-16s", label+":") + " " + p.value.Sprint(value)
}
