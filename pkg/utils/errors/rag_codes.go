package errors

import "google.golang.org/grpc/codes"

// 通用错误
var (
	OK          = &Errno{Code: 0, HTTP: 200, GRPCCode: codes.OK, MessageEN: "success", MessageZH: "成功"}
	ErrInternal = Register(New(MakeCode(ServiceCommon, CategoryInternal, 1), 500, codes.Internal, "Internal server error", "服务器内部错误"))
	ErrNotFound = Register(New(MakeCode(ServiceCommon, CategoryResource, 1), 404, codes.NotFound, "Resource not found", "资源不存在"))
	ErrPanic    = Register(New(MakeCode(ServiceCommon, CategoryInternal, 2), 500, codes.Internal, "Internal server panic", "服务器内部异常"))
)

// RAG 服务错误 (服务代码 20)
var (
	// 请求参数错误 (类别 01)
	ErrRAGInvalidRequest = Register(New(MakeCode(ServiceRAG, CategoryRequest, 1), 400, codes.InvalidArgument, "Invalid request parameters", "请求参数无效"))
	ErrRAGTextTooLong    = Register(New(MakeCode(ServiceRAG, CategoryRequest, 2), 400, codes.InvalidArgument, "Text exceeds maximum length", "文本超出最大长度"))
	ErrRAGEmptyContext   = Register(New(MakeCode(ServiceRAG, CategoryRequest, 3), 400, codes.InvalidArgument, "No context chunks provided", "未提供上下文片段"))

	// 资源错误 (类别 04)
	ErrRAGNoResults        = Register(New(MakeCode(ServiceRAG, CategoryResource, 1), 404, codes.NotFound, "No results found", "未找到结果"))
	ErrRAGDocumentNotFound = Register(New(MakeCode(ServiceRAG, CategoryResource, 2), 404, codes.NotFound, "Document not found", "文档不存在"))
	ErrRAGQueryNotFound    = Register(New(MakeCode(ServiceRAG, CategoryResource, 3), 404, codes.NotFound, "Query not found", "查询记录不存在"))

	// 冲突 (类别 05)
	ErrRAGDuplicateDocument = Register(New(MakeCode(ServiceRAG, CategoryConflict, 1), 409, codes.AlreadyExists, "Document already ingested", "文档已导入"))

	// 限流 (类别 06)
	ErrRAGProviderRateLimited = Register(New(MakeCode(ServiceRAG, CategoryRateLimit, 1), 429, codes.ResourceExhausted, "Provider rate limited", "供应商限流"))

	// 内部错误 (类别 07)
	ErrRAGQueryFailed    = Register(New(MakeCode(ServiceRAG, CategoryInternal, 1), 500, codes.Internal, "Query failed", "查询失败"))
	ErrRAGIndexFailed    = Register(New(MakeCode(ServiceRAG, CategoryInternal, 2), 500, codes.Internal, "Document indexing failed", "文档索引失败"))
	ErrRAGEmptyAnswer    = Register(New(MakeCode(ServiceRAG, CategoryInternal, 3), 500, codes.Internal, "Provider returned an empty answer", "模型返回空回答"))
	ErrRAGMalformedReply = Register(New(MakeCode(ServiceRAG, CategoryInternal, 4), 500, codes.Internal, "Malformed provider payload", "供应商响应格式错误"))

	// 存储 (类别 08)
	ErrRAGStorage = Register(New(MakeCode(ServiceRAG, CategoryDatabase, 1), 500, codes.Internal, "Storage operation failed", "存储操作失败"))

	// 网络 (类别 10)
	ErrRAGServiceUnavailable = Register(New(MakeCode(ServiceRAG, CategoryNetwork, 1), 503, codes.Unavailable, "RAG service unavailable", "RAG 服务不可用"))

	// 超时 (类别 11)
	ErrRAGQueryTimeout = Register(New(MakeCode(ServiceRAG, CategoryTimeout, 1), 504, codes.DeadlineExceeded, "Query timeout", "查询超时"))
)
