package metadata

// The metadata blob carries two namespaces: "domain" for business attributes
// (title, author, summary) and "processing" for transient operational state
// (subscribe_to_feed, audio_file_path). Legacy writers put everything at the
// top level; Normalize sorts keys into their namespace while keeping the
// top-level duplicates so old readers keep working.

// processingKeys are the transient operational fields.
var processingKeys = map[string]bool{
	"subscribe_to_feed": true,
	"audio_file_path":   true,
	"feed_url":          true,
	"processing_errors": true,
	"analysis_source":   true,
}

// Namespaced reports whether a key is one of the two namespace containers.
func namespaced(key string) bool {
	return key == "domain" || key == "processing"
}

// Normalize sorts top-level keys into the domain/processing namespaces,
// preserving the legacy top-level duplicates. Existing namespace contents
// win over top-level duplicates of the same key.
func Normalize(md map[string]any) map[string]any {
	out := make(map[string]any, len(md)+2)
	domain := map[string]any{}
	processing := map[string]any{}

	if existing, ok := md["domain"].(map[string]any); ok {
		for k, v := range existing {
			domain[k] = v
		}
	}
	if existing, ok := md["processing"].(map[string]any); ok {
		for k, v := range existing {
			processing[k] = v
		}
	}

	for k, v := range md {
		if namespaced(k) {
			continue
		}
		out[k] = v // legacy top-level duplicate
		target := domain
		if processingKeys[k] {
			target = processing
		}
		if _, claimed := target[k]; !claimed {
			target[k] = v
		}
	}

	out["domain"] = domain
	out["processing"] = processing
	return out
}

// FlatView overlays processing on top of domain on top of the legacy
// top-level keys, producing the single flat map new code reads through.
func FlatView(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if namespaced(k) {
			continue
		}
		out[k] = v
	}
	if domain, ok := md["domain"].(map[string]any); ok {
		for k, v := range domain {
			out[k] = v
		}
	}
	if processing, ok := md["processing"].(map[string]any); ok {
		for k, v := range processing {
			out[k] = v
		}
	}
	return out
}
