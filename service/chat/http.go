package chat

import (
	"context"
	"net/http"
	"time"

	mid "ChatRelay/middleware"
	midsec "ChatRelay/middleware/security"
	"ChatRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type HTTPConf struct {
	Roster         func(ctx context.Context) ([]string, error)
	Metrics        http.Handler    // nil 时不挂 /metrics
	Auth           *midsec.Options // nil 时 /ws 不校验 token
	AllowedOrigins []string
}

// Engine HTTP 路由：/ws 升级入口 + 几个探针
func (s *Server) Engine(conf HTTPConf) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mid.AccessLog(s.log.Named("http")))

	mids := mid.NewManager()
	mids.Add(mid.Origin(conf.AllowedOrigins))
	opt := mid.RouteOpt{}
	if conf.Auth != nil {
		opt.Auth = midsec.Middleware(conf.Auth)
	}
	mid.GET(r.Group("", mids.Use()), "/ws", s.HandleWS, opt)

	r.GET("/api/test", func(c *gin.Context) {
		c.String(http.StatusOK, "Server is running!")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"node":        s.conf.NodeID,
			"connections": s.conns.Count(),
		})
	})
	if conf.Roster != nil {
		r.GET("/api/users", func(c *gin.Context) {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			users, err := conf.Roster(ctx)
			if err != nil {
				s.log.Warn("roster failed", zap.Error(err))
				var codeErr errs.CodeError
				if !errors.As(err, &codeErr) {
					codeErr = errs.ErrInternal
				}
				c.JSON(http.StatusServiceUnavailable, codeErr)
				return
			}
			c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
		})
	}
	if conf.Metrics != nil {
		r.GET("/metrics", gin.WrapH(conf.Metrics))
	}
	return r
}
