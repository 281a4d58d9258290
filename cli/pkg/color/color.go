// Package color wraps text in ANSI escape sequences.
package color

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ANSI color codes
const (
	reset = "\033[0m"

	// Foreground colors
	FgRed     = 31
	FgGreen   = 32
	FgYellow  = 33
	FgBlue    = 34
	FgMagenta = 35
	FgCyan    = 36
	FgWhite   = 37

	// Attributes
	Bold = 1
	Dim  = 2
)

// NoColor disables escape sequences. It starts true when NO_COLOR is set.
var NoColor = os.Getenv("NO_COLOR") != ""

// Color is a set of SGR attributes.
type Color struct {
	params []int
}

// New creates a new Color with the given attributes
func New(attrs ...int) *Color {
	return &Color{params: attrs}
}

func (c *Color) format() string {
	if NoColor || len(c.params) == 0 {
		return ""
	}
	parts := make([]string, len(c.params))
	for i, p := range c.params {
		parts[i] = strconv.Itoa(p)
	}
	return "\033[" + strings.Join(parts, ";") + "m"
}

func (c *Color) wrap(s string) string {
	start := c.format()
	if start == "" {
		return s
	}
	return start + s + reset
}

// Fprintf prints formatted output with color to w.
func (c *Color) Fprintf(w io.Writer, format string, a ...any) {
	fmt.Fprint(w, c.wrap(fmt.Sprintf(format, a...)))
}

// Sprint returns a colored string
func (c *Color) Sprint(a ...any) string {
	return c.wrap(fmt.Sprint(a...))
}

// Sprintf returns a formatted colored string
func (c *Color) Sprintf(format string, a ...any) string {
	return c.wrap(fmt.Sprintf(format, a...))
}
