package rag

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	o := NewOptions()
	assert.Empty(t, o.Validate())
	assert.Equal(t, 800, o.Chunking.ChunkSize)
	assert.Equal(t, 200, o.Chunking.ChunkOverlap)
	assert.Equal(t, 2048, o.Embedding.MaxBatchSize)
	assert.Equal(t, 1000, o.Generation.MaxTokens)
}

func TestValidateRejectsBadValues(t *testing.T) {
	o := NewOptions()
	o.Chunking.ChunkOverlap = o.Chunking.ChunkSize
	o.Retrieval.TopK = 21
	o.History.Backend = "etcd"
	o.Embedding.MaxAttempts = 0

	errs := o.Validate()
	assert.Len(t, errs, 4)
}

func TestCompleteFillsNilSections(t *testing.T) {
	o := &Options{}
	require.NoError(t, o.Complete())
	assert.NotNil(t, o.Chunking)
	assert.NotNil(t, o.Cache)
	assert.Empty(t, o.Validate())
}

func TestAddFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("rag", pflag.ContinueOnError)
	o.AddFlags(fs, "rag")

	require.NoError(t, fs.Parse([]string{
		"--rag.chunking.chunk-size=400",
		"--rag.history.backend=redis",
		"--rag.retrieval.similarity-threshold=0.25",
	}))
	assert.Equal(t, 400, o.Chunking.ChunkSize)
	assert.Equal(t, HistoryRedis, o.History.Backend)
	assert.InDelta(t, 0.25, o.Retrieval.SimilarityThreshold, 1e-9)
}
