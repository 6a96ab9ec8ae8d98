package channel

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"timeclerk/internal/logging"
	"timeclerk/internal/types"
)

// Formatter applies the policy table to composed text. It is a pure
// transformation; the policy table is the only state, and it only
// changes on a reload.
type Formatter struct {
	mu    sync.RWMutex
	table PolicyTable
}

// NewFormatter creates a Formatter over a policy table.
func NewFormatter(table PolicyTable) (*Formatter, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Formatter{table: table}, nil
}

// Reload swaps in a new policy table after validating it.
func (f *Formatter) Reload(table PolicyTable) error {
	if err := table.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.table = table
	f.mu.Unlock()
	logging.Get(logging.CategoryFormatter).Info("policy table reloaded (%d channels)", len(table))
	return nil
}

// Policy returns the policy for a channel.
func (f *Formatter) Policy(ch types.Channel) (Policy, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.table[ch]
	return p, ok
}

// Format produces channel-legal output for the text, splitting into
// ordered parts when the channel's length cap requires it.
func (f *Formatter) Format(text string, ch types.Channel) (*types.FormattedResponse, error) {
	policy, ok := f.Policy(ch)
	if !ok {
		return nil, fmt.Errorf("%w: no policy for channel %q", types.ErrFormatting, ch)
	}

	content := applyMarkup(text, policy.Markup)

	resp := &types.FormattedResponse{
		Channel: ch,
		Content: content,
	}

	if len(content) > policy.MaxLength {
		parts := splitContent(content, policy.MaxLength)
		resp.IsSplit = true
		resp.Parts = parts
		logging.Get(logging.CategoryFormatter).Debug("split %d chars into %d parts for %s", len(content), len(parts), ch)
	}

	return resp, nil
}

var (
	codeFenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n?(.*?)```")
	inlineCode  = regexp.MustCompile("`([^`]*)`")
	linkRe      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingRe   = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	boldRe      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe    = regexp.MustCompile(`\*([^*]+)\*`)
	underBoldRe = regexp.MustCompile(`__([^_]+)__`)
	underRe     = regexp.MustCompile(`_([^_]+)_`)
)

// applyMarkup reduces markdown to what the channel tolerates. Each pass
// is idempotent: stripping already-stripped text changes nothing.
func applyMarkup(text string, level MarkupLevel) string {
	switch level {
	case MarkupFull:
		return text
	case MarkupLimited:
		// Headings, links and fences flatten; bold/italic survive.
		out := codeFenceRe.ReplaceAllString(text, "$1")
		out = linkRe.ReplaceAllString(out, "$1")
		out = headingRe.ReplaceAllString(out, "")
		return out
	default: // MarkupNone
		out := codeFenceRe.ReplaceAllString(text, "$1")
		out = inlineCode.ReplaceAllString(out, "$1")
		out = linkRe.ReplaceAllString(out, "$1")
		out = headingRe.ReplaceAllString(out, "")
		out = boldRe.ReplaceAllString(out, "$1")
		out = underBoldRe.ReplaceAllString(out, "$1")
		out = italicRe.ReplaceAllString(out, "$1")
		out = underRe.ReplaceAllString(out, "$1")
		return out
	}
}

// splitContent cuts content into parts no longer than max, preferring
// paragraph breaks, then sentence ends, then word boundaries. Parts are
// exact slices of the input, so concatenating them in order reproduces
// the content byte for byte.
func splitContent(content string, max int) []string {
	var parts []string
	rest := content
	for len(rest) > max {
		cut := findCut(rest, max)
		parts = append(parts, rest[:cut])
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		parts = append(parts, rest)
	}
	return parts
}

// findCut picks the best cut index in (0, max] for s.
func findCut(s string, max int) int {
	window := s[:max]

	// Paragraph boundary: cut after the blank line.
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 2
	}

	// Sentence boundary: cut after terminal punctuation plus space.
	best := -1
	for _, sep := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(window, sep); idx >= 0 && idx+len(sep) > best {
			best = idx + len(sep)
		}
	}
	if best > 0 {
		return best
	}

	// Word boundary: cut after the last space.
	if idx := strings.LastIndexByte(window, ' '); idx > 0 {
		return idx + 1
	}

	// Single run longer than max; hard cut at the nearest rune
	// boundary so no part ends in a split rune.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}
