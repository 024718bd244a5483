package store

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"
)

// New creates the vector index selected by opts.Type.
func New(ctx context.Context, opts *storeopts.Options, milvusOpts *milvusopts.Options, dim int) (VectorIndex, error) {
	switch opts.Type {
	case storeopts.TypeMemory, "":
		logger.Infow("using in-memory vector index", "dimension", dim)
		return NewMemoryIndex(dim), nil

	case storeopts.TypeChromem:
		idx, err := NewChromemIndex(opts.Chromem, dim)
		if err != nil {
			return nil, err
		}
		logger.Infow("using chromem vector index", "path", opts.Chromem.Path, "collection", opts.Chromem.Collection)
		return idx, nil

	case storeopts.TypeMilvus:
		client, err := milvus.New(ctx, milvusOpts)
		if err != nil {
			return nil, err
		}
		idx, err := NewMilvusIndex(ctx, client, milvusOpts.Collection, dim)
		if err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		logger.Infow("using milvus vector index", "address", milvusOpts.Address, "collection", milvusOpts.Collection)
		return idx, nil

	case storeopts.TypePGVector:
		idx, err := NewPGVectorIndex(ctx, opts.PGVector, dim)
		if err != nil {
			return nil, err
		}
		logger.Infow("using pgvector index", "table", opts.PGVector.Table)
		return idx, nil
	}
	return nil, fmt.Errorf("unknown vector index type: %s", opts.Type)
}
