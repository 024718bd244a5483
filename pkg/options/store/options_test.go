package store

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"memory default", func(o *Options) {}, false},
		{"chromem", func(o *Options) { o.Type = TypeChromem }, false},
		{"pgvector without dsn", func(o *Options) { o.Type = TypePGVector; o.PGVector.DSN = "" }, true},
		{"unknown type", func(o *Options) { o.Type = "faiss" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			assert.Equal(t, tt.wantErr, len(o.Validate()) > 0)
		})
	}
}

func TestAddFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("store", pflag.ContinueOnError)
	o.AddFlags(fs, "store")

	require.NoError(t, fs.Parse([]string{"--store.type=chromem", "--store.chromem.path=/tmp/idx"}))
	assert.Equal(t, TypeChromem, o.Type)
	assert.Equal(t, "/tmp/idx", o.Chromem.Path)
}
