package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/willemave/news-app-sub001/internal/store"
)

func TestComputePatch(t *testing.T) {
	base := map[string]any{"keep": 1, "change": "old", "drop": true}
	updated := map[string]any{"keep": 1, "change": "new", "add": "x"}

	p := ComputePatch(base, updated)
	require.Equal(t, map[string]any{"change": "new", "add": "x"}, p.Changed)
	require.Contains(t, p.Removed, "drop")
	require.Len(t, p.Removed, 1)
	require.False(t, p.Empty())

	require.True(t, ComputePatch(base, base).Empty())
}

func TestCloneIsDeep(t *testing.T) {
	md := map[string]any{
		"nested": map[string]any{"a": 1},
		"list":   []any{"x"},
	}
	cp := Clone(md)
	cp["nested"].(map[string]any)["a"] = 2
	cp["list"].([]any)[0] = "y"

	require.Equal(t, 1, md["nested"].(map[string]any)["a"])
	require.Equal(t, "x", md["list"].([]any)[0])
}

func TestRefreshMergeAppliesDiffOverFreshSnapshot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	id, _, err := st.EnsureContent(ctx, &store.Content{
		URL:      "https://example.com/a",
		Metadata: map[string]any{"title": "v1", "stale": true},
	})
	require.NoError(t, err)

	// Handler snapshots base, mutates a copy.
	base := map[string]any{"title": "v1", "stale": true}
	updated := map[string]any{"title": "v2", "extracted": "text"}

	// A concurrent path writes an unrelated key before the handler commits.
	require.NoError(t, st.SaveContentMetadata(ctx, id, map[string]any{
		"title": "v1", "stale": true, "concurrent": "kept",
	}))

	merged, err := RefreshMerge(ctx, st, id, base, updated)
	require.NoError(t, err)
	require.Equal(t, "v2", merged["title"])
	require.Equal(t, "text", merged["extracted"])
	require.Equal(t, "kept", merged["concurrent"], "unrelated concurrent key must survive")
	require.NotContains(t, merged, "stale", "removed key must be deleted")

	c, err := st.GetContent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, merged, c.Metadata)
}

func TestRefreshMergePreserveLatest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	id, _, err := st.EnsureContent(ctx, &store.Content{
		URL:      "https://example.com/a",
		Metadata: map[string]any{"owner_field": "theirs"},
	})
	require.NoError(t, err)

	base := map[string]any{"owner_field": "stale-read"}
	updated := map[string]any{"owner_field": "mine", "other": 1}

	merged, err := RefreshMerge(ctx, st, id, base, updated, "owner_field")
	require.NoError(t, err)
	require.Equal(t, "theirs", merged["owner_field"], "preserve-latest key defers to the store")
	require.Equal(t, 1, merged["other"])
}

func TestNormalizeNamespaces(t *testing.T) {
	md := map[string]any{
		"title":           "t",
		"audio_file_path": "/tmp/a.mp3",
		"processing": map[string]any{
			"audio_file_path": "/tmp/existing.mp3",
		},
	}
	out := Normalize(md)

	domain := out["domain"].(map[string]any)
	processing := out["processing"].(map[string]any)
	require.Equal(t, "t", domain["title"])
	require.Equal(t, "/tmp/existing.mp3", processing["audio_file_path"],
		"existing namespace contents win over top-level duplicates")

	// Legacy top-level duplicates remain for old readers.
	require.Equal(t, "t", out["title"])
	require.Equal(t, "/tmp/a.mp3", out["audio_file_path"])
}

func TestFlatViewOverlayOrder(t *testing.T) {
	md := map[string]any{
		"key":    "top",
		"domain": map[string]any{"key": "domain", "d_only": 1},
		"processing": map[string]any{
			"key":    "processing",
			"p_only": 2,
		},
	}
	flat := FlatView(md)
	require.Equal(t, "processing", flat["key"], "processing overlays domain overlays top level")
	require.Equal(t, 1, flat["d_only"])
	require.Equal(t, 2, flat["p_only"])
	require.NotContains(t, flat, "domain")
	require.NotContains(t, flat, "processing")
}

func TestAppendProcessingError(t *testing.T) {
	md := map[string]any{}
	AppendProcessingError(md, "summarize", "no text")
	AppendProcessingError(md, "process_content", "timeout")

	list, ok := md["processing_errors"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)

	first := list[0].(map[string]any)
	require.Equal(t, "summarize", first["stage"])
	require.Equal(t, "no text", first["reason"])
	require.NotEmpty(t, first["timestamp"])
}
