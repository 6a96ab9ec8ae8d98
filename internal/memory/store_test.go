package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// keywordEngine produces deterministic vectors: one dimension per known
// keyword, so similarity is fully predictable.
type keywordEngine struct {
	keywords []string
}

func newKeywordEngine() *keywordEngine {
	return &keywordEngine{keywords: []string{"hours", "schedule", "project", "vacation", "overtime"}}
}

func (e *keywordEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.keywords)+1)
	vec[len(e.keywords)] = 0.1 // keeps zero-keyword texts non-degenerate
	for i, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (e *keywordEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEngine) Dimensions() int { return len(e.keywords) + 1 }
func (e *keywordEngine) Name() string    { return "keyword-test" }

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "memory.db"), newKeywordEngine(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndRetrieve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "acme", "u42", "how many hours this week", "You logged 20 hours.", nil))
	require.NoError(t, s.Add(ctx, "acme", "u42", "when is my vacation", "Your vacation starts July 7.", nil))

	records, err := s.Retrieve(ctx, "acme", "u42", "hours last week", 5)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Contains(t, records[0].UserText, "hours")
}

// A store that believes the vec extension is present but cannot run
// the vec query must degrade to the in-process scan, not error out.
func TestRetrieveFallsBackWhenVecQueryFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "acme", "u42", "how many hours this week", "You logged 20 hours.", nil))
	require.NoError(t, s.Add(ctx, "acme", "u42", "when is my vacation", "Your vacation starts July 7.", nil))

	// The test binary is built without the extension, so the vec path
	// errors with an unknown function and the scan must take over.
	s.vectorExt = true

	records, err := s.Retrieve(ctx, "acme", "u42", "hours last week", 5)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Contains(t, records[0].UserText, "hours")
}

func TestAddRequiresScope(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.Add(context.Background(), "", "u42", "q", "a", nil))
	require.Error(t, s.Add(context.Background(), "acme", "", "q", "a", nil))
}

// Two tenants sharing a user id must never see each other's memories.
func TestRetrieveTenantIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "acme", "u42", "my overtime at acme", "12 hours overtime.", nil))
	require.NoError(t, s.Add(ctx, "globex", "u42", "my overtime at globex", "3 hours overtime.", nil))

	records, err := s.Retrieve(ctx, "acme", "u42", "overtime", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "acme", records[0].TenantID)
	require.Contains(t, records[0].UserText, "acme")
}

func TestRetrieveUserIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "acme", "u1", "u1 hours", "8 hours.", nil))
	require.NoError(t, s.Add(ctx, "acme", "u2", "u2 hours", "6 hours.", nil))

	records, err := s.Retrieve(ctx, "acme", "u1", "hours", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "u1", records[0].UserID)
}

// Expansion may only add results on top of what the plain query finds.
func TestRetrieveExpansionNeverReducesRecall(t *testing.T) {
	plain := openTestStore(t, WithoutExpansion())
	expanded := openTestStore(t)
	ctx := context.Background()

	seed := func(s *Store) {
		require.NoError(t, s.Add(ctx, "acme", "u42", "hours yesterday", "8 hours.", nil))
		require.NoError(t, s.Add(ctx, "acme", "u42", "my schedule", "Shifts Mon-Fri.", nil))
		require.NoError(t, s.Add(ctx, "acme", "u42", "project assignment", "Rollout project.", nil))
	}
	seed(plain)
	seed(expanded)

	base, err := plain.Retrieve(ctx, "acme", "u42", "what did I work yesterday", 10)
	require.NoError(t, err)
	wide, err := expanded.Retrieve(ctx, "acme", "u42", "what did I work yesterday", 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(wide), len(base))

	ids := make(map[int64]bool)
	for _, r := range wide {
		require.False(t, ids[r.ID], "expansion must dedupe by record id")
		ids[r.ID] = true
	}
}

func TestRetrieveTruncatesToK(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, s.Add(ctx, "acme", "u42", "hours question", "hours answer", nil))
	}
	records, err := s.Retrieve(ctx, "acme", "u42", "hours", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestSnippetsRenderBothSides(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "acme", "u42", "hours this week", "You logged 20 hours.", nil))
	snips, err := s.Snippets(ctx, "acme", "u42", "hours", 3)
	require.NoError(t, err)
	require.Len(t, snips, 1)
	require.Contains(t, snips[0], "hours this week")
	require.Contains(t, snips[0], "You logged 20 hours.")
}

func TestCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx, "acme", "u42")
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, s.Add(ctx, "acme", "u42", "q", "a", nil))
	n, err = s.Count(ctx, "acme", "u42")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "acme", "u42", "hours question", "hours answer",
		map[string]string{"channel": "sms", "operation": "get_time_entries"}))

	records, err := s.Retrieve(ctx, "acme", "u42", "hours", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "sms", records[0].Metadata["channel"])
}
