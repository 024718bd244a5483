// Package model 定义 sentinel-rag 的持久化记录。
package model

import (
	"time"
)

// ChunkStatus is the embedding lifecycle of a chunk.
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
)

// Document 是一份已提取文本的来源文档，例如一封邮件或其附件。
type Document struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	AppID              string    `json:"app_id" gorm:"type:varchar(64);index;not null"`
	ExternalID         string    `json:"external_id" gorm:"type:varchar(255)"`
	EmailID            string    `json:"email_id,omitempty" gorm:"type:varchar(64)"`
	Title              string    `json:"title" gorm:"type:varchar(512)"`
	AttachmentID       string    `json:"attachment_id,omitempty" gorm:"type:varchar(64)"`
	AttachmentFilename string    `json:"attachment_filename,omitempty" gorm:"type:varchar(512)"`
	ChunkNum           int       `json:"chunk_num" gorm:"default:0"`
	CreatedAt          time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "rag_documents"
}

// Chunk is one bounded segment of a document.
// Embedding is set only when Status is completed.
type Chunk struct {
	ID         string      `json:"id" gorm:"primaryKey;type:varchar(64)"`
	DocumentID string      `json:"document_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_chunk_doc_ordinal,priority:1"`
	AppID      string      `json:"app_id" gorm:"type:varchar(64);not null;index"`
	Ordinal    int         `json:"chunk_index" gorm:"column:chunk_index;not null;uniqueIndex:idx_chunk_doc_ordinal,priority:2"`
	Content    string      `json:"content" gorm:"type:text;not null"`
	TokenCount int         `json:"token_count"`
	CharCount  int         `json:"char_count"`
	Status     ChunkStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	Embedding  []float32   `json:"-" gorm:"type:text;serializer:json"`
	Error      string      `json:"error,omitempty" gorm:"type:text"`

	// 来源文档的冗余信息，检索结果直接用于生成引用描述
	EmailID            string `json:"email_id,omitempty" gorm:"type:varchar(64)"`
	EmailSubject       string `json:"email_subject,omitempty" gorm:"type:varchar(512)"`
	AttachmentID       string `json:"attachment_id,omitempty" gorm:"type:varchar(64)"`
	AttachmentFilename string `json:"attachment_filename,omitempty" gorm:"type:varchar(512)"`

	IndexedAt *time.Time `json:"indexed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Chunk.
func (Chunk) TableName() string {
	return "rag_chunks"
}

// Metadata returns the string metadata copied into the vector index.
func (c *Chunk) Metadata() map[string]string {
	m := make(map[string]string, 4)
	if c.EmailID != "" {
		m[MetaEmailID] = c.EmailID
	}
	if c.EmailSubject != "" {
		m[MetaEmailSubject] = c.EmailSubject
	}
	if c.AttachmentID != "" {
		m[MetaAttachmentID] = c.AttachmentID
	}
	if c.AttachmentFilename != "" {
		m[MetaAttachmentFilename] = c.AttachmentFilename
	}
	return m
}

// Metadata keys stored alongside vectors.
const (
	MetaEmailID            = "email_id"
	MetaEmailSubject       = "email_subject"
	MetaAttachmentID       = "attachment_id"
	MetaAttachmentFilename = "attachment_filename"
)

// QueryStatus is the lifecycle of a query.
type QueryStatus string

const (
	QueryPending   QueryStatus = "pending"
	QueryCompleted QueryStatus = "completed"
	QueryFailed    QueryStatus = "failed"
	QueryNoResults QueryStatus = "no_results"
)

// TokenUsage 记录一次生成的 token 数和估算费用（美元）。
type TokenUsage struct {
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	TotalTokens   int     `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Query is one question and, once processed, its answer.
type Query struct {
	ID               string      `json:"id" gorm:"primaryKey;type:varchar(64)"`
	AppID            string      `json:"app_id" gorm:"type:varchar(64);not null;index"`
	ConversationID   string      `json:"conversation_id,omitempty" gorm:"type:varchar(64);index"`
	QueryText        string      `json:"query_text" gorm:"type:text;not null"`
	Answer           string      `json:"answer,omitempty" gorm:"type:text"`
	SourceChunkIDs   []string    `json:"source_chunk_ids,omitempty" gorm:"type:text;serializer:json"`
	Status           QueryStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	Usage            TokenUsage  `json:"token_usage" gorm:"embedded;embeddedPrefix:usage_"`
	Model            string      `json:"model,omitempty" gorm:"type:varchar(64)"`
	ProcessingTimeMS int64       `json:"processing_time_ms"`
	Error            string      `json:"error,omitempty" gorm:"type:text"`
	CreatedAt        time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Query.
func (Query) TableName() string {
	return "rag_queries"
}

// ConversationTurn 是对话线程中的一问一答，只追加不修改。
type ConversationTurn struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(64);not null;index:idx_turn_thread,priority:2"`
	AppID          string    `json:"app_id" gorm:"type:varchar(64);not null;index:idx_turn_thread,priority:1"`
	QueryID        string    `json:"query_id" gorm:"type:varchar(64)"`
	Question       string    `json:"question" gorm:"type:text"`
	Answer         string    `json:"answer" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for ConversationTurn.
func (ConversationTurn) TableName() string {
	return "rag_conversation_turns"
}

// IdempotencyRecord maps a stable external id to the document ingested for it.
type IdempotencyRecord struct {
	Key        string    `json:"key" gorm:"primaryKey;type:varchar(320)"`
	AppID      string    `json:"app_id" gorm:"type:varchar(64);not null"`
	ExternalID string    `json:"external_id" gorm:"type:varchar(255);not null"`
	DocumentID string    `json:"document_id" gorm:"type:varchar(64);not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for IdempotencyRecord.
func (IdempotencyRecord) TableName() string {
	return "rag_idempotency_records"
}

// IdempotencyKey builds the record key for an external id within a tenant.
func IdempotencyKey(appID, externalID string) string {
	return appID + ":" + externalID
}

// AllModels lists every table for auto-migration.
func AllModels() []any {
	return []any{
		&Document{},
		&Chunk{},
		&Query{},
		&ConversationTurn{},
		&IdempotencyRecord{},
	}
}
