package channel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"timeclerk/internal/types"
)

func newTestFormatter(t *testing.T) *Formatter {
	t.Helper()
	f, err := NewFormatter(DefaultPolicyTable())
	require.NoError(t, err)
	return f
}

func TestFormatUnknownChannel(t *testing.T) {
	f := newTestFormatter(t)
	_, err := f.Format("hello", types.Channel("fax"))
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestFormatStripsMarkupForSMS(t *testing.T) {
	f := newTestFormatter(t)

	in := "## Your hours\nYou logged **20 hours** across _3 entries_ this week. Details at [the portal](https://example.com/portal)."
	resp, err := f.Format(in, types.ChannelSMS)
	require.NoError(t, err)

	want := "Your hours\nYou logged 20 hours across 3 entries this week. Details at the portal."
	if diff := cmp.Diff(want, resp.Content); diff != "" {
		t.Fatalf("unexpected sms content (-want +got):\n%s", diff)
	}
	if resp.IsSplit {
		t.Fatal("short content should not be split")
	}
}

func TestFormatLimitedKeepsBoldFlattensRest(t *testing.T) {
	f := newTestFormatter(t)

	in := "# Summary\nYou worked **20 hours**. See [details](https://example.com)."
	resp, err := f.Format(in, types.ChannelSlack)
	require.NoError(t, err)

	if !strings.Contains(resp.Content, "**20 hours**") {
		t.Fatalf("bold should survive limited markup, got %q", resp.Content)
	}
	if strings.Contains(resp.Content, "# Summary") {
		t.Fatalf("heading should be flattened, got %q", resp.Content)
	}
	if strings.Contains(resp.Content, "https://example.com") {
		t.Fatalf("link target should be dropped, got %q", resp.Content)
	}
}

func TestFormatEmailPassesThrough(t *testing.T) {
	f := newTestFormatter(t)

	in := "## Report\n**Total:** 20h\n\n- Mon: 8h\n- Tue: 12h"
	resp, err := f.Format(in, types.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, in, resp.Content)
}

// Stripping twice must equal stripping once: refinement routes its text
// through the formatter again.
func TestApplyMarkupIdempotent(t *testing.T) {
	inputs := []string{
		"plain text with no markup at all",
		"**bold** and _italic_ and `code`",
		"# Heading\n```go\nfunc main() {}\n```\n[link](https://x.test)",
		"nested **bold with _italic_ inside**",
		"already stripped text. Nothing to do here.",
	}
	for _, level := range []MarkupLevel{MarkupNone, MarkupLimited, MarkupFull} {
		for _, in := range inputs {
			once := applyMarkup(in, level)
			twice := applyMarkup(once, level)
			if once != twice {
				t.Errorf("level %s not idempotent on %q:\nonce:  %q\ntwice: %q", level, in, once, twice)
			}
		}
	}
}

func TestSplitContentReconstructs(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("You logged eight hours on Monday against the rollout project. ")
	}
	content := b.String()

	parts := splitContent(content, 480)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for i, p := range parts {
		if len(p) > 480 {
			t.Fatalf("part %d exceeds cap: %d chars", i, len(p))
		}
		if len(p) == 0 {
			t.Fatalf("part %d is empty", i)
		}
	}
	if got := strings.Join(parts, ""); got != content {
		t.Fatal("concatenated parts do not reproduce the content")
	}
}

func TestSplitContentPrefersParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 50) // 250 chars
	content := para + "\n\n" + para + "\n\n" + para

	parts := splitContent(content, 480)
	require.True(t, len(parts) >= 2)
	if !strings.HasSuffix(parts[0], "\n\n") {
		t.Fatalf("first cut should land on a paragraph boundary, got tail %q", parts[0][len(parts[0])-10:])
	}
}

func TestSplitContentHardCutsUnbrokenRun(t *testing.T) {
	content := strings.Repeat("a", 1000)
	parts := splitContent(content, 480)
	require.Equal(t, 3, len(parts))
	require.Equal(t, content, strings.Join(parts, ""))
}

// Hard cuts back up to the nearest rune start, so multi-byte text
// never splits mid-rune.
func TestSplitContentHardCutsOnRuneBoundary(t *testing.T) {
	content := strings.Repeat("€", 40) // 3 bytes each, no spaces
	parts := splitContent(content, 10)      // 10 is not a multiple of 3

	require.Equal(t, content, strings.Join(parts, ""))
	for i, p := range parts {
		require.True(t, utf8.ValidString(p), "part %d splits a rune: %q", i, p)
		require.LessOrEqual(t, len(p), 10)
	}
}

func TestFormatSplitsLongSMS(t *testing.T) {
	f := newTestFormatter(t)

	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("You logged eight hours on Monday. ")
	}
	resp, err := f.Format(b.String(), types.ChannelSMS)
	require.NoError(t, err)
	require.True(t, resp.IsSplit)
	require.Equal(t, resp.Content, strings.Join(resp.Parts, ""))
	for _, p := range resp.Parts {
		require.LessOrEqual(t, len(p), 480)
	}
}

func TestLoadPolicyTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	body := `sms:
  max_length: 300
  markup: none
  tone: terse
email:
  max_length: 20000
  markup: full
  tone: formal
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	table, err := LoadPolicyTable(path)
	require.NoError(t, err)
	require.Equal(t, 300, table[types.ChannelSMS].MaxLength)
	require.Equal(t, MarkupFull, table[types.ChannelEmail].Markup)
}

func TestLoadPolicyTableRejectsBadMarkup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sms:\n  max_length: 100\n  markup: shouty\n"), 0644))

	if _, err := LoadPolicyTable(path); err == nil {
		t.Fatal("expected validation error for unknown markup level")
	}
}

func TestReloadRejectsInvalidTableKeepsOld(t *testing.T) {
	f := newTestFormatter(t)

	bad := PolicyTable{types.ChannelSMS: {MaxLength: 0, Markup: MarkupNone}}
	if err := f.Reload(bad); err == nil {
		t.Fatal("expected reload of invalid table to fail")
	}

	// Old table must still serve.
	if _, ok := f.Policy(types.ChannelSMS); !ok {
		t.Fatal("previous table should survive a rejected reload")
	}
}
