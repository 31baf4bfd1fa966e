package index

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordEmbedder is a deterministic bag-of-words embedder for tests. Each
// vocabulary word is a dimension; the vector counts occurrences.
type wordEmbedder struct {
	vocab []string
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vector := make([]float64, len(e.vocab))
	for _, word := range strings.Fields(strings.ToLower(text)) {
		for i, v := range e.vocab {
			if word == v {
				vector[i]++
			}
		}
	}
	// off-vocabulary text still gets a non-zero direction
	vector = append(vector, 0.01)
	return vector, nil
}

func (e *wordEmbedder) Model() string { return "test/bag-of-words" }

func testIndex(t *testing.T) *Index {
	t.Helper()
	embedder := &wordEmbedder{vocab: []string{"customer", "order", "email", "total"}}
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"), embedder, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestAddAndSearch(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	err := ix.Add(ctx, "shop", []Document{
		{Text: "customer customer email", Metadata: map[string]string{"table_name": "Customers"}},
		{Text: "order total", Metadata: map[string]string{"table_name": "Orders"}},
	})
	require.NoError(t, err)

	query, err := ix.embedder.Embed(ctx, "customer email")
	require.NoError(t, err)

	records, err := ix.Search(ctx, query, 1, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Customers", records[0].Metadata["table_name"])
	assert.Equal(t, "shop", records[0].Metadata["namespace"])
	assert.Equal(t, "shop", records[0].Namespace)
	assert.Less(t, records[0].Distance, 0.0, "similar documents sit below zero")
}

func TestSearchRanking(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	err := ix.Add(ctx, "shop", []Document{
		{Text: "order order total", Metadata: map[string]string{"table_name": "Orders"}},
		{Text: "customer email email", Metadata: map[string]string{"table_name": "Customers"}},
		{Text: "total total total", Metadata: map[string]string{"table_name": "Invoices"}},
	})
	require.NoError(t, err)

	query, err := ix.embedder.Embed(ctx, "email of a customer")
	require.NoError(t, err)

	records, err := ix.Search(ctx, query, 3, nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Customers", records[0].Metadata["table_name"])
	for i := 1; i < len(records); i++ {
		assert.LessOrEqual(t, records[i-1].Distance, records[i].Distance)
	}
}

func TestSearchNamespaceFilter(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "shop", []Document{
		{Text: "customer email", Metadata: map[string]string{"table_name": "Customers"}},
	}))
	require.NoError(t, ix.Add(ctx, "crm", []Document{
		{Text: "customer email email email", Metadata: map[string]string{"table_name": "Contacts"}},
	}))

	query, err := ix.embedder.Embed(ctx, "customer email")
	require.NoError(t, err)

	// the crm record is the closer match overall but the filter is a
	// hard boundary
	records, err := ix.Search(ctx, query, 5, map[string]string{"namespace": "shop"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Customers", records[0].Metadata["table_name"])
}

func TestSearchMayReturnFewerThanK(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "a", []Document{
		{Text: "order"}, {Text: "total"}, {Text: "customer"}, {Text: "email"},
	}))
	require.NoError(t, ix.Add(ctx, "b", []Document{
		{Text: "order total"},
	}))

	query, err := ix.embedder.Embed(ctx, "order")
	require.NoError(t, err)

	// k=4 over-fetches 8 candidates but only one survives the filter
	records, err := ix.Search(ctx, query, 4, map[string]string{"namespace": "b"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSearchZeroK(t *testing.T) {
	ix := testIndex(t)

	records, err := ix.Search(context.Background(), []float64{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteNamespace(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "shop", []Document{{Text: "order"}, {Text: "customer"}}))
	require.NoError(t, ix.Add(ctx, "crm", []Document{{Text: "email"}}))

	n, err := ix.DeleteNamespace(ctx, "shop")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	count, err := ix.Count(ctx, "shop")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	count, err = ix.Count(ctx, "crm")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// deleting an absent namespace is a no-op
	n, err = ix.DeleteNamespace(ctx, "nope")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestReindexCycle(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "shop", []Document{{Text: "order"}}))
	_, err := ix.DeleteNamespace(ctx, "shop")
	require.NoError(t, err)
	require.NoError(t, ix.Add(ctx, "shop", []Document{{Text: "order"}, {Text: "total"}}))

	count, err := ix.Count(ctx, "shop")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestAddEmptyBatch(t *testing.T) {
	ix := testIndex(t)
	require.NoError(t, ix.Add(context.Background(), "shop", nil))
}
