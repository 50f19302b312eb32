package mirror

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultDirective    = "Server"
	DefaultPathTemplate = "$repo/os/$arch"
)

// FormatOptions controls rendering of the mirrorlist.
type FormatOptions struct {
	Filter       FilterConfig
	GeneratedAt  time.Time
	Directive    string
	PathTemplate string

	// Source, Total and Skipped are echoed in the header.
	Source  string
	Total   int
	Skipped int
}

// Format renders ranked records as mirrorlist lines: a "##" header block,
// a blank line, then one directive per mirror. Records whose URL cannot be
// written safely are dropped and returned as skipped.
func Format(records []Record, opts FormatOptions) ([]string, []SkippedRecord) {
	directive := opts.Directive
	if directive == "" {
		directive = DefaultDirective
	}
	tmpl := strings.TrimLeft(opts.PathTemplate, "/")
	if tmpl == "" {
		tmpl = DefaultPathTemplate
	}

	var skipped []SkippedRecord
	body := make([]string, 0, len(records))
	for _, r := range records {
		base, err := directiveURL(r.URL, opts.Filter.Protocol)
		if err != nil {
			skipped = append(skipped, SkippedRecord{
				Index: r.Index,
				URL:   r.URL,
				Stage: StageFormat,
				Err:   err,
			})
			continue
		}
		body = append(body, fmt.Sprintf("%s = %s/%s", directive, base, tmpl))
	}

	lines := header(opts, len(body), len(skipped))
	lines = append(lines, "")
	return append(lines, body...), skipped
}

func header(opts FormatOptions, emitted, formatSkipped int) []string {
	lines := []string{
		"##",
		"## Arch Linux repository mirrorlist",
		"## Generated by mirrorgen on " + opts.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"),
	}
	if opts.Source != "" {
		lines = append(lines, "## Source: "+sanitizeComment(opts.Source))
	}
	lines = append(lines,
		"## Filters: "+sanitizeComment(opts.Filter.String()),
		fmt.Sprintf("## Mirrors: %d of %d (skipped %d)", emitted, opts.Total, opts.Skipped+formatSkipped),
		"##",
	)
	return lines
}

// directiveURL strips the trailing slash from raw and, when proto names a
// concrete web protocol, substitutes it into the scheme.
func directiveURL(raw string, proto Protocol) (string, error) {
	for _, r := range raw {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '#' || r == '$' {
			return "", fmt.Errorf("%w: contains %q", ErrUnsafeURL, r)
		}
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: no scheme", ErrUnsafeURL)
	}
	if proto == ProtocolHTTP || proto == ProtocolHTTPS {
		scheme = string(proto)
	}
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q cannot be downloaded from", ErrUnsafeURL, scheme)
	}
	return scheme + "://" + strings.TrimRight(rest, "/"), nil
}

func sanitizeComment(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}
