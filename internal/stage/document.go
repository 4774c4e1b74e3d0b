package stage

import (
	"encoding/json"
	"fmt"
)

// Document is a loaded document or chunk as exchanged between stages.
type Document struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// EmbeddedDoc is a chunk with its embedding, as produced by the embedding
// and late chunking services and consumed by ingestion.
type EmbeddedDoc struct {
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding"`
}

// Stamp sets key on the metadata of every document.
func Stamp(docs []Document, key string, value any) {
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata[key] = value
	}
}

// decodeKey reads the list stored under key of a JSON object response.
func decodeKey[T any](stageName string, resp map[string]json.RawMessage, key string) ([]T, error) {
	raw, ok := resp[key]
	if !ok {
		return nil, &Error{Stage: stageName, Class: ClassFatal, Err: fmt.Errorf("response missing %q", key)}
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Stage: stageName, Class: ClassFatal, Err: fmt.Errorf("decode %q: %w", key, err)}
	}
	return out, nil
}
