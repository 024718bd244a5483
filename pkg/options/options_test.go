package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "", Join())
	assert.Equal(t, "rag.", Join("rag"))
	assert.Equal(t, "rag.", Join("rag."))
	assert.Equal(t, "store.pgvector.", Join("store", "", "pgvector"))
}
