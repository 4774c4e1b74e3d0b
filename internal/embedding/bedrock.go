package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"golang.org/x/sync/errgroup"

	"github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/stage"
)

const (
	maxBatchSize       = 96 // Cohere embed API limit
	bedrockConcurrency = 8  // max simultaneous in-flight Bedrock requests
	stageName          = "embedding"
)

type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockEmbedder embeds chunks with a Cohere model on AWS Bedrock.
type BedrockEmbedder struct {
	bedrock modelInvoker
	modelID string
}

// NewBedrockEmbedder creates a Bedrock embedder for the configured region and model.
func NewBedrockEmbedder(ctx context.Context, cfg config.BedrockConfig) (*BedrockEmbedder, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockEmbedder{bedrock: bedrockruntime.NewFromConfig(awsCfg), modelID: cfg.ModelID}, nil
}

// cohereEmbedRequest is the Cohere Embed API request format.
type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns docs with their embeddings attached, in input order.
func (c *BedrockEmbedder) Embed(ctx context.Context, docs []stage.Document) ([]stage.EmbeddedDoc, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	vectors, err := c.EmbedBatch(ctx, texts, "search_document")
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(docs) {
		return nil, &stage.Error{
			Stage: stageName,
			Class: stage.ClassFatal,
			Err:   fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(docs)),
		}
	}

	out := make([]stage.EmbeddedDoc, len(docs))
	for i, d := range docs {
		out[i] = stage.EmbeddedDoc{Text: d.Text, Metadata: d.Metadata, Embedding: vectors[i]}
	}
	return out, nil
}

// EmbedBatch generates embeddings for texts.
//
// Texts are split into sub-batches of maxBatchSize and up to bedrockConcurrency
// requests are sent in parallel. Each sub-batch writes into its own slot of
// the result slice.
func (c *BedrockEmbedder) EmbedBatch(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	type chunk struct {
		start int
		end   int
	}
	var chunks []chunk
	for i := 0; i < len(texts); i += maxBatchSize {
		chunks = append(chunks, chunk{i, min(i+maxBatchSize, len(texts))})
	}

	chunkResults := make([][][]float32, len(chunks))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(bedrockConcurrency)

	for idx, ch := range chunks {
		eg.Go(func() error {
			embeddings, err := c.embedSingle(egCtx, texts[ch.start:ch.end], inputType)
			if err != nil {
				return err
			}
			chunkResults[idx] = embeddings
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	all := make([][]float32, 0, len(texts))
	for _, r := range chunkResults {
		all = append(all, r...)
	}
	return all, nil
}

func (c *BedrockEmbedder) embedSingle(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	reqBody, err := json.Marshal(cohereEmbedRequest{Texts: texts, InputType: inputType})
	if err != nil {
		return nil, &stage.Error{Stage: stageName, Class: stage.ClassFatal, Err: fmt.Errorf("marshal request: %w", err)}
	}

	resp, err := c.bedrock.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		ContentType: strPtr("application/json"),
		Body:        reqBody,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Throttling and model availability errors are the common case here.
		return nil, &stage.Error{Stage: stageName, Class: stage.ClassTransient, Err: fmt.Errorf("invoke model: %w", err)}
	}

	var result cohereEmbedResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, &stage.Error{Stage: stageName, Class: stage.ClassFatal, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return result.Embeddings, nil
}

// ModelID returns the Bedrock model identifier.
func (c *BedrockEmbedder) ModelID() string { return c.modelID }

func strPtr(s string) *string { return &s }
