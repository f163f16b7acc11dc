package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/embeddings"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/service"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// DefaultMaxChunkChars bounds chunks produced by splitting document text.
const DefaultMaxChunkChars = 1200

// Document is one reference document in an ingest file. It carries either
// free text to be split into chunks or explicit, pre-sequenced chunks.
type Document struct {
	ID       string          `json:"id" yaml:"id"`
	Category string          `json:"category" yaml:"category"`
	Citation string          `json:"citation" yaml:"citation"`
	Text     string          `json:"text,omitempty" yaml:"text,omitempty"`
	Chunks   []DocumentChunk `json:"chunks,omitempty" yaml:"chunks,omitempty"`
}

// DocumentChunk is an explicit chunk of a Document.
type DocumentChunk struct {
	Text      string    `json:"text" yaml:"text"`
	Citation  string    `json:"citation,omitempty" yaml:"citation,omitempty"`
	Embedding []float32 `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Sequence  int       `json:"sequence" yaml:"sequence"`
}

// File is the top-level shape of an ingest file.
type File struct {
	Documents []Document `json:"documents" yaml:"documents"`
}

// Validate checks the document is ingestible.
func (d Document) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.ID, validation.Required),
		validation.Field(&d.Text, validation.When(len(d.Chunks) == 0, validation.Required.Error("text or chunks required"))),
	)
}

// ParseFile decodes an ingest file. Files ending in .json are decoded as JSON,
// everything else as YAML.
func ParseFile(path string) ([]Document, error) {
	// #nosec G304 - path is supplied by the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Parse decodes documents from r.
func Parse(r io.Reader, isJSON bool) ([]Document, error) {
	var file File
	if isJSON {
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&file); err != nil {
			return nil, common.NewIntegrityError("invalid corpus JSON: %v", err)
		}
	} else {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return nil, common.NewIntegrityError("invalid corpus YAML: %v", err)
		}
	}
	return file.Documents, nil
}

// IngestReport summarizes an ingest.
type IngestReport struct {
	Documents int
	Chunks    int
}

// Ingester validates, embeds, persists and indexes corpus documents.
type Ingester struct {
	repo          service.ChunkRepository
	index         *Index
	embedder      embeddings.Embedder
	maxChunkChars int
}

// NewIngester creates an ingester writing to repo and index.
func NewIngester(repo service.ChunkRepository, index *Index, maxChunkChars int) *Ingester {
	if maxChunkChars <= 0 {
		maxChunkChars = DefaultMaxChunkChars
	}
	return &Ingester{repo: repo, index: index, embedder: index.embedder, maxChunkChars: maxChunkChars}
}

// Ingest stores every document. Each document is validated in full before any
// of its chunks are written; a bad document stops the ingest.
func (in *Ingester) Ingest(ctx context.Context, docs []Document) (*IngestReport, error) {
	report := &IngestReport{}
	for _, doc := range docs {
		chunks, err := in.prepare(ctx, doc)
		if err != nil {
			return report, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		if err := in.repo.SaveChunks(ctx, chunks); err != nil {
			return report, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		if err := in.index.Add(ctx, chunks); err != nil {
			return report, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		report.Documents++
		report.Chunks += len(chunks)
		slog.Info("Ingested document", "document", doc.ID, "chunks", len(chunks))
	}
	return report, nil
}

func (in *Ingester) prepare(ctx context.Context, doc Document) ([]model.Chunk, error) {
	if err := doc.Validate(); err != nil {
		return nil, common.NewIntegrityError("%v", err)
	}

	parts := doc.Chunks
	if len(parts) == 0 {
		for i, text := range SplitText(doc.Text, in.maxChunkChars) {
			parts = append(parts, DocumentChunk{Sequence: i, Text: text})
		}
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Sequence < parts[j].Sequence })

	existingMax, err := in.repo.MaxChunkSequence(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := checkContiguous(parts, existingMax); err != nil {
		return nil, err
	}

	dim := in.embedder.Dimension()
	chunks := make([]model.Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.Text) == "" {
			return nil, common.NewIntegrityError("chunk %d has no text", p.Sequence)
		}
		vec := p.Embedding
		if len(vec) == 0 {
			vec, err = in.embedder.Embed(ctx, p.Text)
			if err != nil {
				return nil, fmt.Errorf("failed to embed chunk %d: %w", p.Sequence, err)
			}
		}
		if len(vec) != dim {
			return nil, common.NewIntegrityError("chunk %d has dimension %d, expected %d", p.Sequence, len(vec), dim)
		}
		citation := p.Citation
		if citation == "" {
			citation = doc.Citation
		}
		chunks = append(chunks, model.Chunk{
			ID:         model.ChunkID(doc.ID, p.Sequence),
			DocumentID: doc.ID,
			Sequence:   p.Sequence,
			Text:       p.Text,
			Category:   doc.Category,
			Citation:   citation,
			Embedding:  vec,
		})
	}
	return chunks, nil
}

// checkContiguous requires sorted sequences with no gaps or duplicates that
// start no later than one past the stored maximum.
func checkContiguous(parts []DocumentChunk, existingMax int) error {
	if len(parts) == 0 {
		return common.NewIntegrityError("document has no chunks")
	}
	if parts[0].Sequence < 0 || parts[0].Sequence > existingMax+1 {
		return common.NewIntegrityError("first sequence %d leaves a gap after stored sequence %d", parts[0].Sequence, existingMax)
	}
	for i := 1; i < len(parts); i++ {
		if parts[i].Sequence != parts[i-1].Sequence+1 {
			return common.NewIntegrityError("sequence %d follows %d", parts[i].Sequence, parts[i-1].Sequence)
		}
	}
	return nil
}

// SplitText breaks text into chunks on paragraph boundaries, packing
// paragraphs up to maxChars. Oversized paragraphs are cut at word boundaries.
func SplitText(text string, maxChars int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+2+len(para) > maxChars {
			flush()
		}
		for len(para) > maxChars {
			cut := strings.LastIndex(para[:maxChars], " ")
			if cut <= 0 {
				cut = maxChars
			}
			cur.WriteString(para[:cut])
			flush()
			para = strings.TrimSpace(para[cut:])
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}
