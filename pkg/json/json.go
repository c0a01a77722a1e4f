package json

import (
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"
)

// RawMessage 延迟解析的原始JSON
type RawMessage = stdjson.RawMessage

// 与标准库兼容的jsoniter实例
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal 序列化
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent 带缩进的序列化
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return json.MarshalIndent(v, prefix, indent)
}

// Unmarshal 反序列化
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
