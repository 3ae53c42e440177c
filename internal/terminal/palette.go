package terminal

import (
	"log/slog"

	"github.com/fatih/color"
)

// Palette colors console output. A palette built for a terminal without
// color support returns its input unchanged.
type Palette struct {
	debug   *color.Color
	info    *color.Color
	warn    *color.Color
	err     *color.Color
	muted   *color.Color
	added   *color.Color
	removed *color.Color
	header  *color.Color
}

// NewPalette creates a palette honoring caps.SupportsColor.
func NewPalette(caps Capabilities) *Palette {
	p := &Palette{
		debug:   color.New(color.FgHiBlack),
		info:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		err:     color.New(color.FgRed, color.Bold),
		muted:   color.New(color.FgHiBlack),
		added:   color.New(color.FgGreen),
		removed: color.New(color.FgRed),
		header:  color.New(color.FgCyan, color.Bold),
	}
	enabled := caps != nil && caps.SupportsColor()
	for _, c := range []*color.Color{p.debug, p.info, p.warn, p.err, p.muted, p.added, p.removed, p.header} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Level renders a log level label.
func (p *Palette) Level(level slog.Level) string {
	label := level.String()
	switch {
	case level >= slog.LevelError:
		return p.err.Sprint(label)
	case level >= slog.LevelWarn:
		return p.warn.Sprint(label)
	case level >= slog.LevelInfo:
		return p.info.Sprint(label)
	default:
		return p.debug.Sprint(label)
	}
}

// Muted renders secondary text such as attribute keys and offsets.
func (p *Palette) Muted(s string) string { return p.muted.Sprint(s) }

// Added renders an inserted line.
func (p *Palette) Added(s string) string { return p.added.Sprint(s) }

// Removed renders a deleted line.
func (p *Palette) Removed(s string) string { return p.removed.Sprint(s) }

// Header renders a section title.
func (p *Palette) Header(s string) string { return p.header.Sprint(s) }

// Error renders an error message.
func (p *Palette) Error(s string) string { return p.err.Sprint(s) }
