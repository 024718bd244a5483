// Package biz 提供 RAG 服务的业务逻辑层。
//
// 该包将流水线拆分为以下组件：
//   - Chunker: 把提取后的文本切分为有界、有序的分块
//   - Embedder: 分批调用嵌入供应商，带校验、重试和子批次隔离
//   - Retriever: 在租户范围内按相似度检索分块
//   - PromptComposer: 组装带编号来源和对话历史的 prompt
//   - Generator: 调用 LLM 生成回答并统计 token 与费用
//   - CitationFormatter: 把来源标记映射为稳定的引用编号
//   - Indexer / QueryService: 组合以上组件，提供文档写入、待处理分块索引和问答
package biz
