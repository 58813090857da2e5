package decode

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"ChatRelay/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 "123" -> int64、1.0 -> int64 等。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// DecodeJSON 把一段 JSON 对象解码到结构体 T，字段读取使用 `json` tag。
func DecodeJSON[T any](data []byte, opts ...Options) (*T, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errs.ErrArgs.WrapMsg("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, errs.ErrArgs.WrapMsg("body is not a json object", "err", err)
	}
	return DecodeMap[T](m, opts...)
}

// DecodeMap 将 map 动态解码到任意结构体 T。
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, errs.ErrArgs.WrapMsg("map is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook:       lenientTimeHook(),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "new decoder")
	}
	if err := dec.Decode(m); err != nil {
		return nil, errs.ErrArgs.WrapMsg("decode struct", "err", err)
	}
	return &out, nil
}

// -----------------------------
// Decode Hooks
// -----------------------------

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // 无时区（Java LocalDateTime）
	"2006-01-02 15:04:05",
}

// lenientTimeHook：字符串/数字转 time.Time，解析不了就给零值而不是报错。
func lenientTimeHook() mapstructure.DecodeHookFuncType {
	timeType := reflect.TypeOf(time.Time{})
	return func(from, to reflect.Type, data any) (any, error) {
		if to != timeType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			s := strings.TrimSpace(v)
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t, nil
				}
			}
			return time.Time{}, nil
		case json.Number:
			if ms, err := v.Int64(); err == nil {
				return time.UnixMilli(ms), nil
			}
			return time.Time{}, nil
		case time.Time:
			return v, nil
		default:
			return time.Time{}, nil
		}
	}
}
