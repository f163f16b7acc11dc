package corpus

import (
	"context"
	"strings"
	"testing"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/embeddings"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDocs = []Document{
	{
		ID:       "sec-144-030",
		Category: "exemptions",
		Citation: "Sec. 144.030",
		Chunks: []DocumentChunk{
			{Sequence: 0, Text: "Machinery and equipment used directly in manufacturing are exempt from sales tax."},
			{Sequence: 1, Text: "Replacement parts for exempt manufacturing equipment are also exempt."},
		},
	},
	{
		ID:       "sec-144-020",
		Category: "rates",
		Citation: "Sec. 144.020",
		Text:     "Retail sales of tangible personal property are taxable at the state rate.\n\nMeals served by restaurants are taxable.",
	},
}

func newTestIndex(t *testing.T) (*Index, *Ingester, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ix, err := NewIndex(embeddings.NewHashEmbedder(128))
	require.NoError(t, err)
	return ix, NewIngester(db.Storage, ix, 80), db
}

func TestIngest_AndVectorSearch(t *testing.T) {
	ctx := context.Background()
	ix, ing, db := newTestIndex(t)

	report, err := ing.Ingest(ctx, testDocs)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 4, report.Chunks)
	assert.Equal(t, 4, ix.Count())

	stored, err := db.Storage.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stored)

	vec, err := ix.Embed(ctx, "manufacturing equipment exempt")
	require.NoError(t, err)

	hits, err := ix.VectorSearch(ctx, vec, model.SearchFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 4, "limit above the collection size is capped")
	assert.Equal(t, "sec-144-030", hits[0].Chunk.DocumentID)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}

	hits, err = ix.VectorSearch(ctx, vec, model.SearchFilters{Category: "rates"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "rates", h.Chunk.Category)
		assert.Equal(t, "Sec. 144.020", h.Chunk.Citation)
	}
}

func TestLexicalSearch(t *testing.T) {
	ctx := context.Background()
	ix, ing, _ := newTestIndex(t)

	_, err := ix.LexicalSearch(ctx, "anything", model.SearchFilters{}, 5)
	assert.ErrorIs(t, err, ErrLexicalUnavailable)

	_, err = ing.Ingest(ctx, testDocs)
	require.NoError(t, err)

	hits, err := ix.LexicalSearch(ctx, "restaurant meals", model.SearchFilters{}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, model.ChunkID("sec-144-020", 1), hits[0].Chunk.ID)
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = ix.LexicalSearch(ctx, "exempt", model.SearchFilters{DocumentID: "sec-144-020"}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = ix.LexicalSearch(ctx, "the of and", model.SearchFilters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_LoadFromStorage(t *testing.T) {
	ctx := context.Background()
	_, ing, db := newTestIndex(t)
	_, err := ing.Ingest(ctx, testDocs)
	require.NoError(t, err)

	fresh, err := NewIndex(embeddings.NewHashEmbedder(128))
	require.NoError(t, err)
	n, err := fresh.Load(ctx, db.Storage)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	other, err := NewIndex(embeddings.NewHashEmbedder(64))
	require.NoError(t, err)
	_, err = other.Load(ctx, db.Storage)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestIngest_Contiguity(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prior   []DocumentChunk
		chunks  []DocumentChunk
		wantErr bool
	}{
		{name: "gap", chunks: []DocumentChunk{{Sequence: 0, Text: "a b"}, {Sequence: 2, Text: "c d"}}, wantErr: true},
		{name: "duplicate", chunks: []DocumentChunk{{Sequence: 0, Text: "a b"}, {Sequence: 0, Text: "c d"}}, wantErr: true},
		{name: "must start at zero", chunks: []DocumentChunk{{Sequence: 1, Text: "a b"}}, wantErr: true},
		{name: "append after stored", prior: []DocumentChunk{{Sequence: 0, Text: "a b"}}, chunks: []DocumentChunk{{Sequence: 1, Text: "c d"}}},
		{name: "gap after stored", prior: []DocumentChunk{{Sequence: 0, Text: "a b"}}, chunks: []DocumentChunk{{Sequence: 2, Text: "c d"}}, wantErr: true},
		{name: "unordered input is sorted", chunks: []DocumentChunk{{Sequence: 1, Text: "c d"}, {Sequence: 0, Text: "a b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ing, _ := newTestIndex(t)
			if tt.prior != nil {
				_, err := ing.Ingest(ctx, []Document{{ID: "doc", Chunks: tt.prior}})
				require.NoError(t, err)
			}
			_, err := ing.Ingest(ctx, []Document{{ID: "doc", Chunks: tt.chunks}})
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrDataIntegrity)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIngest_DimensionMismatch(t *testing.T) {
	_, ing, _ := newTestIndex(t)
	_, err := ing.Ingest(context.Background(), []Document{{
		ID:     "doc",
		Chunks: []DocumentChunk{{Sequence: 0, Text: "text", Embedding: []float32{1, 0, 0}}},
	}})
	assert.ErrorIs(t, err, common.ErrDataIntegrity)
}

func TestSplitText(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph.\n\n\n" + strings.Repeat("word ", 30)
	chunks := SplitText(text, 60)

	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Equal(t, "First paragraph here.\n\nSecond paragraph.", chunks[0])
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 60)
		assert.NotEmpty(t, c)
	}
	assert.Empty(t, SplitText(" \n\n ", 60))
}

func TestParse(t *testing.T) {
	yamlDoc := `
documents:
  - id: d1
    category: exemptions
    citation: "Sec. 1"
    text: hello world
`
	docs, err := Parse(strings.NewReader(yamlDoc), false)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Sec. 1", docs[0].Citation)

	jsonDoc := `{"documents":[{"id":"d2","chunks":[{"sequence":0,"text":"x y","embedding":[0.5,0.5]}]}]}`
	docs, err = Parse(strings.NewReader(jsonDoc), true)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []float32{0.5, 0.5}, docs[0].Chunks[0].Embedding)

	_, err = Parse(strings.NewReader(`{"documents":[{"id":"d","bogus":1}]}`), true)
	assert.ErrorIs(t, err, common.ErrDataIntegrity)
}
