package security

import (
	"net/http"
	"strings"

	"ChatRelay/tools/errs"
	"ChatRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// —— context key ——
const (
	CtxSubjectKey = "subject" // 校验通过的用户名
)

type Options struct {
	JWT         security.Options
	HeaderToken string // 默认 "authorization"
	QueryToken  string // 默认 "token"，浏览器 websocket 无法带自定义头
}

func DefaultOptions(jwt security.Options) *Options {
	return &Options{
		JWT:         jwt,
		HeaderToken: "authorization",
		QueryToken:  "token",
	}
}

// Middleware 校验 token，成功后把 sub 写入 CtxSubjectKey
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Query(opts.QueryToken))
		// 兼容 Authorization: Bearer xxx
		if token == "" {
			token = security.BearerToken(c.GetHeader(opts.HeaderToken))
		}
		if token == "" {
			abort(c, errs.ErrTokenInvalid.WrapMsg("missing token"))
			return
		}

		sub, err := security.Verify(opts.JWT, token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(CtxSubjectKey, sub)
	}
}

func abort(c *gin.Context, err error) {
	var codeErr errs.CodeError
	if !errors.As(err, &codeErr) {
		codeErr = errs.ErrTokenInvalid
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, codeErr)
}
