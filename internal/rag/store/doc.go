// Package store 提供 RAG 服务的向量索引层。
//
// VectorIndex 定义分块向量的写入、按租户检索、删除与统计，
// 并提供 memory、chromem、milvus、pgvector 四种实现，由 store.type 选择。
package store
