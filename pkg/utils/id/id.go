// Package id 提供 ID 生成工具。
//
//	id.NewUUID() // 查询 ID, e.g. "550e8400-e29b-41d4-a716-446655440000"
//	id.NewULID() // 文档/片段 ID, 按时间字典序可排序
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator defines the interface for ID generators.
type Generator interface {
	Generate() string
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func() string

// Generate calls f.
func (f GeneratorFunc) Generate() string { return f() }

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewUUID generates a random UUID v4 string.
func NewUUID() string {
	return uuid.NewString()
}

// NewULID generates a monotonic ULID string. Safe for concurrent use.
func NewULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

var (
	UUIDGenerator Generator = GeneratorFunc(NewUUID)
	ULIDGenerator Generator = GeneratorFunc(NewULID)
)
