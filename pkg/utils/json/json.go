// Package json 封装 JSON 编解码，amd64/arm64 上使用 sonic，其它平台回退到 encoding/json。
package json

import (
	stdjson "encoding/json"
	"io"
	"runtime"

	"github.com/bytedance/sonic"
)

// RawMessage is a raw encoded JSON value, decoded lazily.
type RawMessage = stdjson.RawMessage

// Encoder is satisfied by both sonic and encoding/json encoders.
type Encoder interface {
	Encode(v any) error
}

// Decoder is satisfied by both sonic and encoding/json decoders.
type Decoder interface {
	Decode(v any) error
}

var (
	Marshal    func(v any) ([]byte, error)
	Unmarshal  func(data []byte, v any) error
	NewEncoder func(w io.Writer) Encoder
	NewDecoder func(r io.Reader) Decoder

	usingSonic bool
)

func init() {
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64" {
		useSonic(sonic.ConfigStd)
		return
	}
	Marshal = stdjson.Marshal
	Unmarshal = stdjson.Unmarshal
	NewEncoder = func(w io.Writer) Encoder { return stdjson.NewEncoder(w) }
	NewDecoder = func(r io.Reader) Decoder { return stdjson.NewDecoder(r) }
}

// sonic.ConfigStd 保持与标准库一致的 HTML 转义和 map key 排序，
// 缓存键与响应体依赖这一确定性输出。
func useSonic(api sonic.API) {
	Marshal = api.Marshal
	Unmarshal = api.Unmarshal
	NewEncoder = func(w io.Writer) Encoder { return api.NewEncoder(w) }
	NewDecoder = func(r io.Reader) Decoder { return api.NewDecoder(r) }
	usingSonic = true
}

// IsUsingSonic reports whether sonic backs the package functions.
func IsUsingSonic() bool {
	return usingSonic
}
