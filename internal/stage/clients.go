package stage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/item"
)

type fileUpload struct {
	Filename string `json:"filename"`
	Data64   string `json:"data64"`
}

// Extractor calls the text extraction service. The hierarchical variant
// returns ready-made chunks under "docs" instead of "loaded_docs".
type Extractor struct {
	ep           *Endpoint
	hierarchical bool
}

func NewExtractor(ep *Endpoint) *Extractor { return &Extractor{ep: ep} }

func NewHierarchicalExtractor(ep *Endpoint) *Extractor {
	return &Extractor{ep: ep, hierarchical: true}
}

// Hierarchical reports whether extraction output skips compression and splitting.
func (x *Extractor) Hierarchical() bool { return x.hierarchical }

func (x *Extractor) ExtractFile(ctx context.Context, filename string, data []byte) ([]Document, error) {
	payload := map[string]any{
		"files": []fileUpload{{Filename: filename, Data64: base64.StdEncoding.EncodeToString(data)}},
	}
	return x.extract(ctx, payload)
}

func (x *Extractor) ExtractLink(ctx context.Context, uri string) ([]Document, error) {
	return x.extract(ctx, map[string]any{"links": []string{uri}})
}

func (x *Extractor) extract(ctx context.Context, payload any) ([]Document, error) {
	var resp map[string]json.RawMessage
	if err := x.ep.Post(ctx, payload, &resp); err != nil {
		return nil, err
	}
	key := "loaded_docs"
	if x.hierarchical {
		key = "docs"
	}
	return decodeKey[Document](x.ep.Name(), resp, key)
}

// Compressor calls the text compression service.
type Compressor struct{ ep *Endpoint }

func NewCompressor(ep *Endpoint) *Compressor { return &Compressor{ep: ep} }

func (c *Compressor) Compress(ctx context.Context, docs []Document) ([]Document, error) {
	var resp map[string]json.RawMessage
	if err := c.ep.Post(ctx, map[string]any{"loaded_docs": docs}, &resp); err != nil {
		return nil, err
	}
	return decodeKey[Document](c.ep.Name(), resp, "loaded_docs")
}

// SplitOptions overrides the splitter's chunking. Zero means service default.
type SplitOptions struct {
	ChunkSize    int
	ChunkOverlap int
}

// LateChunkingSplit is the coarse split applied before late chunking.
var LateChunkingSplit = SplitOptions{ChunkSize: 8192, ChunkOverlap: 1024}

// Splitter calls the text splitting service.
type Splitter struct{ ep *Endpoint }

func NewSplitter(ep *Endpoint) *Splitter { return &Splitter{ep: ep} }

func (s *Splitter) Split(ctx context.Context, docs []Document, opts SplitOptions) ([]Document, error) {
	payload := map[string]any{"loaded_docs": docs}
	if opts.ChunkSize > 0 {
		payload["chunk_size"] = opts.ChunkSize
		payload["chunk_overlap"] = opts.ChunkOverlap
	}
	var resp map[string]json.RawMessage
	if err := s.ep.Post(ctx, payload, &resp); err != nil {
		return nil, err
	}
	return decodeKey[Document](s.ep.Name(), resp, "docs")
}

// Guard calls the dataprep guardrail, first asking the fingerprint service
// for scan parameters when one is configured.
type Guard struct {
	scan        *Endpoint
	fingerprint *Endpoint
}

func NewGuard(scan, fingerprint *Endpoint) *Guard {
	return &Guard{scan: scan, fingerprint: fingerprint}
}

// Scan returns nil when the guardrail accepts docs and an *Error of class
// ClassRejected when it refuses them.
func (g *Guard) Scan(ctx context.Context, docs []Document) error {
	var params json.RawMessage
	if g.fingerprint != nil {
		var resp struct {
			Parameters struct {
				DataprepGuardrailParams json.RawMessage `json:"dataprep_guardrail_params"`
			} `json:"parameters"`
		}
		if err := g.fingerprint.Post(ctx, map[string]string{"text": ""}, &resp); err != nil {
			return err
		}
		params = resp.Parameters.DataprepGuardrailParams
	}

	payload := map[string]any{"docs": docs}
	if len(params) > 0 {
		payload["dataprep_guardrail_params"] = params
	}
	return g.scan.Post(ctx, payload, nil)
}

// Embedder turns chunks into embedded chunks.
type Embedder interface {
	Embed(ctx context.Context, docs []Document) ([]EmbeddedDoc, error)
}

// HTTPEmbedder calls the embedding service.
type HTTPEmbedder struct{ ep *Endpoint }

func NewHTTPEmbedder(ep *Endpoint) *HTTPEmbedder { return &HTTPEmbedder{ep: ep} }

func (h *HTTPEmbedder) Embed(ctx context.Context, docs []Document) ([]EmbeddedDoc, error) {
	var resp map[string]json.RawMessage
	if err := h.ep.Post(ctx, map[string]any{"docs": docs}, &resp); err != nil {
		return nil, err
	}
	return decodeKey[EmbeddedDoc](h.ep.Name(), resp, "docs")
}

// LateChunker embeds whole documents and returns the late-chunked result.
type LateChunker struct{ ep *Endpoint }

func NewLateChunker(ep *Endpoint) *LateChunker { return &LateChunker{ep: ep} }

func (l *LateChunker) LateChunk(ctx context.Context, docs []Document) ([]EmbeddedDoc, error) {
	var resp map[string]json.RawMessage
	if err := l.ep.Post(ctx, map[string]any{"docs": docs}, &resp); err != nil {
		return nil, err
	}
	return decodeKey[EmbeddedDoc](l.ep.Name(), resp, "docs")
}

// Ingestor writes embedded chunks to the vector store and purges the chunks
// of an item.
type Ingestor interface {
	Ingest(ctx context.Context, docs []EmbeddedDoc) error
	Purge(ctx context.Context, kind item.Kind, id uuid.UUID) error
}

// HTTPIngestor calls the ingestion service and its /delete sub-endpoint.
type HTTPIngestor struct {
	ep     *Endpoint
	delete *Endpoint
}

func NewHTTPIngestor(ep *Endpoint) *HTTPIngestor {
	return &HTTPIngestor{ep: ep, delete: ep.Sub("delete")}
}

func (h *HTTPIngestor) Ingest(ctx context.Context, docs []EmbeddedDoc) error {
	return h.ep.Post(ctx, map[string]any{"docs": docs}, nil)
}

func (h *HTTPIngestor) Purge(ctx context.Context, kind item.Kind, id uuid.UUID) error {
	key, err := MetadataIDKey(kind)
	if err != nil {
		return err
	}
	return h.delete.Post(ctx, map[string]string{key: item.CompactID(id)}, nil)
}

// MetadataIDKey is the metadata field that carries the owning item id.
func MetadataIDKey(kind item.Kind) (string, error) {
	switch kind {
	case item.KindFile:
		return "file_id", nil
	case item.KindLink:
		return "link_id", nil
	}
	return "", fmt.Errorf("unknown item kind %q", kind)
}
