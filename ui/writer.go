package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

// Color is the colour intent attached to a piece of output.
type Color string

const (
	ColorNone    Color = ""
	ColorBlack   Color = "black"
	ColorRed     Color = "red"
	ColorGreen   Color = "green"
	ColorYellow  Color = "yellow"
	ColorBlue    Color = "blue"
	ColorMagenta Color = "magenta"
	ColorCyan    Color = "cyan"
	ColorWhite   Color = "white"
)

var ansiColors = map[Color]text.Colors{
	ColorBlack:   {text.FgBlack, text.Bold},
	ColorRed:     {text.FgRed, text.Bold},
	ColorGreen:   {text.FgGreen, text.Bold},
	ColorYellow:  {text.FgYellow, text.Bold},
	ColorBlue:    {text.FgBlue, text.Bold},
	ColorMagenta: {text.FgMagenta, text.Bold},
	ColorCyan:    {text.FgCyan, text.Bold},
	ColorWhite:   {text.FgWhite, text.Bold},
}

// Writer emits text together with a colour intent. Implementations decide
// whether the intent turns into escape codes.
type Writer interface {
	Write(text string, color Color) error
}

// Printf formats according to a format specifier and writes without colour.
func Printf(w Writer, format string, args ...any) error {
	return w.Write(fmt.Sprintf(format, args...), ColorNone)
}

// NullWriter passes text through and ignores the colour intent.
type NullWriter struct {
	out io.Writer
}

func NewNullWriter(out io.Writer) *NullWriter {
	return &NullWriter{out: out}
}

func (w *NullWriter) Write(s string, _ Color) error {
	_, err := io.WriteString(w.out, s)
	return err
}

// ANSIWriter wraps coloured text in ANSI escape sequences.
type ANSIWriter struct {
	out io.Writer
}

func NewANSIWriter(out io.Writer) *ANSIWriter {
	return &ANSIWriter{out: out}
}

func (w *ANSIWriter) Write(s string, color Color) error {
	if color != ColorNone {
		colors, ok := ansiColors[color]
		if !ok {
			return fmt.Errorf("unknown color %q", color)
		}
		s = text.Escape(s, colors.EscapeSeq())
	}
	_, err := io.WriteString(w.out, s)
	return err
}

// StripWriter removes escape sequences already present in the text, for
// targets such as log files that should stay plain.
type StripWriter struct {
	out io.Writer
}

func NewStripWriter(out io.Writer) *StripWriter {
	return &StripWriter{out: out}
}

func (w *StripWriter) Write(s string, _ Color) error {
	_, err := io.WriteString(w.out, stripansi.Strip(s))
	return err
}

// ColorMode selects how Detect picks a Writer.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode validates a --color value.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(s); m {
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	case "":
		return ColorAuto, nil
	}
	return "", fmt.Errorf("invalid color mode %q, expected auto, always or never", s)
}

// Detect picks the Writer for out. In auto mode a terminal gets colours
// unless NO_COLOR is set or TERM is dumb, anything else gets plain text.
func Detect(out io.Writer, mode ColorMode) Writer {
	switch mode {
	case ColorAlways:
		return NewANSIWriter(out)
	case ColorNever:
		return NewNullWriter(out)
	}
	if isColorTerminal(out) {
		return NewANSIWriter(out)
	}
	return NewStripWriter(out)
}

func isColorTerminal(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if t := os.Getenv("TERM"); t == "dumb" {
		return false
	}
	f, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
