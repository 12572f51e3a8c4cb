// Package metadata implements the conflict-reducing read-modify-write layer
// over the content metadata blob. Handlers snapshot the base map when they
// start, mutate a copy, and merge their diff onto the freshest stored
// snapshot before committing. Last-writer-wins scoped to the changed keys;
// not a CRDT.
package metadata

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/willemave/news-app-sub001/internal/store"
)

// Clone deep-copies a metadata map so a handler can mutate its working copy
// without touching the base snapshot.
func Clone(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if sub, ok := v.(map[string]any); ok {
			out[k] = Clone(sub)
			continue
		}
		if list, ok := v.([]any); ok {
			cp := make([]any, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Patch is the diff between two metadata snapshots.
type Patch struct {
	Changed map[string]any
	Removed map[string]struct{}
}

// Empty reports whether the patch carries no changes.
func (p Patch) Empty() bool {
	return len(p.Changed) == 0 && len(p.Removed) == 0
}

// ComputePatch diffs two snapshots: keys added or modified in updated, and
// keys present in base but gone from updated.
func ComputePatch(base, updated map[string]any) Patch {
	p := Patch{Changed: map[string]any{}, Removed: map[string]struct{}{}}
	for k, v := range updated {
		old, ok := base[k]
		if !ok || !reflect.DeepEqual(old, v) {
			p.Changed[k] = v
		}
	}
	for k := range base {
		if _, ok := updated[k]; !ok {
			p.Removed[k] = struct{}{}
		}
	}
	return p
}

// RefreshMerge loads the current metadata for the content, applies the
// base→updated diff over it, and persists and returns the merged map. Keys
// in preserveLatest always keep the stored value, letting a handler defer to
// fields a concurrent path owns.
func RefreshMerge(ctx context.Context, s store.Store, contentID int64, base, updated map[string]any, preserveLatest ...string) (map[string]any, error) {
	current, err := s.GetContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("refresh metadata for content %d: %w", contentID, err)
	}

	merged := make(map[string]any, len(current.Metadata))
	for k, v := range current.Metadata {
		merged[k] = v
	}

	patch := ComputePatch(base, updated)
	for k, v := range patch.Changed {
		merged[k] = v
	}
	for k := range patch.Removed {
		delete(merged, k)
	}
	for _, k := range preserveLatest {
		if v, ok := current.Metadata[k]; ok {
			merged[k] = v
		} else {
			delete(merged, k)
		}
	}

	if err := s.SaveContentMetadata(ctx, contentID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// ProcessingError is one structured failure entry recorded under the
// processing_errors metadata key.
type ProcessingError struct {
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// AppendProcessingError adds a failure record to the metadata map in place.
func AppendProcessingError(md map[string]any, stage, reason string) {
	entry := map[string]any{
		"stage":     stage,
		"reason":    reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	list, _ := md["processing_errors"].([]any)
	md["processing_errors"] = append(list, entry)
}
