package errors

// Service codes (AA)
const (
	// ServiceCommon is for errors shared by all services.
	ServiceCommon = 0

	// ServiceRAG is for the retrieval-augmented generation service.
	ServiceRAG = 20
)

// Category codes (BB)
const (
	CategoryRequest   = 1  // 400
	CategoryResource  = 4  // 404
	CategoryConflict  = 5  // 409
	CategoryRateLimit = 6  // 429
	CategoryInternal  = 7  // 500
	CategoryDatabase  = 8  // 500
	CategoryCache     = 9  // 500
	CategoryNetwork   = 10 // 502/503
	CategoryTimeout   = 11 // 504
	CategoryConfig    = 12 // 500
)

// MakeCode creates an error code from service, category, and sequence.
// Format: AABBCCC where AA=service, BB=category, CCC=sequence
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode splits an error code into service, category, and sequence.
func ParseCode(code int) (service, category, sequence int) {
	return code / 100000, (code % 100000) / 1000, code % 1000
}

// IsClientError reports whether code belongs to a 4xx category.
func IsClientError(code int) bool {
	_, category, _ := ParseCode(code)
	return category >= CategoryRequest && category <= CategoryRateLimit
}
