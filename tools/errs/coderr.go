package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// 错误码
const (
	ServerInternalError = 500
	ArgsError           = 1001 // 参数错误
	ConfigError         = 1002 // 配置错误
	TokenInvalidError   = 1501
	TokenExpiredError   = 1502
	TransportError      = 1601 // 投递通道（ws / nats）错误
	RegistryError       = 1701 // 在线表存储错误
)

var (
	ErrArgs         = NewCodeError(ArgsError, "ArgsError")
	ErrConfig       = NewCodeError(ConfigError, "ConfigError")
	ErrTokenInvalid = NewCodeError(TokenInvalidError, "TokenInvalid")
	ErrTokenExpired = NewCodeError(TokenExpiredError, "TokenExpired")
	ErrTransport    = NewCodeError(TransportError, "TransportError")
	ErrRegistry     = NewCodeError(RegistryError, "RegistryError")
	ErrInternal     = NewCodeError(ServerInternalError, "ServerInternalError")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap 带调用栈返回
func (e CodeError) Wrap() error {
	return errors.WithStack(e)
}

func (e CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e
	if msg != "" || len(kv) > 0 {
		retErr = e.WithDetail(toString(msg, kv))
	}
	return errors.WithStack(retErr)
}

// Is 按错误码比较，调用栈包装不影响判断
func (e CodeError) Is(err error) bool {
	var codeErr CodeError
	if !errors.As(err, &codeErr) {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Code 取出错误码，非 CodeError 返回 ServerInternalError
func Code(err error) int {
	if err == nil {
		return 0
	}
	var codeErr CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return ServerInternalError
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
