package repository

import (
	"encoding/json"
	"fmt"
)

// ICodec 实体与存储文档之间的编解码器
//
// 文档型存储引擎（memory/sql/redis）统一以字节存储实体，
// 读取时总是解码出新实例，调用方修改返回值不会影响已存储数据。
type ICodec[T any] interface {
	Encode(e T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec 基于 encoding/json 的编解码器
type JSONCodec[T any] struct {
	newFn func() T
}

// NewJSONCodec 创建 JSON 编解码器
//
// 参数：
//   - newFn: 返回可解码的新实例（通常是指针类型，如 func() *User { return &User{} }）
func NewJSONCodec[T any](newFn func() T) *JSONCodec[T] {
	return &JSONCodec[T]{newFn: newFn}
}

func (c *JSONCodec[T]) Encode(e T) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	return data, nil
}

func (c *JSONCodec[T]) Decode(data []byte) (T, error) {
	v := c.newFn()
	if err := json.Unmarshal(data, v); err != nil {
		var zero T
		return zero, fmt.Errorf("decode entity: %w", err)
	}
	return v, nil
}
