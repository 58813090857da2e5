package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	midsec "ChatRelay/middleware/security"
	"ChatRelay/service/delivery"
	"ChatRelay/tools/ids"
	"ChatRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS 升级连接，读循环在当前 goroutine，写循环单独一个
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		s.log.Info("upgrade websocket failed", zap.Error(err))
		return
	}

	client := NewClient(ids.NewConnID(), ws, s.conf.SendQueue, s.newLimiter())
	client.Subject = c.GetString(midsec.CtxSubjectKey)
	if err := s.conns.Add(client); err != nil {
		s.log.Error("register connection failed", zap.Error(err))
		_ = ws.Close()
		return
	}
	log := s.log.With(zap.String("conn", client.ConnID), zap.String("remote", c.ClientIP()))
	if client.Subject != "" {
		// 带 token 的连接直接挂到用户名下，未加入聊天也能收到通话信令
		evicted, err := s.BindUser(s.ctx, client, client.Subject)
		if err != nil {
			log.Warn("bind subject failed", zap.String("subject", client.Subject), zap.Error(err))
			s.conns.Remove(client.ConnID)
			_ = ws.Close()
			return
		}
		if evicted != nil {
			evicted.Close()
		}
	}
	log.Info("connected", zap.String("subject", client.Subject))

	s.wg.Add(2)
	safe.SafeGo("ws-write-"+client.ConnID, func() {
		defer s.wg.Done()
		s.writePump(client, log)
	})
	defer s.wg.Done()

	s.readLoop(client, log)
	s.disconnect(client, log)
}

func (s *Server) readLoop(c *Client, log *zap.Logger) {
	ws := c.WS
	ws.SetReadLimit(s.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			logReadError(log, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.handleFrame(c, data, log)
	}
}

func (s *Server) handleFrame(c *Client, data []byte, log *zap.Logger) {
	frame, err := ParseFrameJSON(data)
	if err != nil {
		// 只打印简短样本
		sample := data
		if len(sample) > 256 {
			sample = sample[:256]
		}
		log.Info("bad frame", zap.Error(err), zap.ByteString("sample", sample), zap.Int("len", len(data)))
		s.metrics.ObserveEvent("unknown", delivery.DroppedInvalid.String())
		return
	}
	route := NormalizeRoute(frame.Destination)

	if !c.Allow() {
		log.Debug("rate limited, drop frame", zap.String("route", route))
		s.metrics.ObserveEvent(route, "rate_limited")
		return
	}

	oc, err := s.disp.Dispatch(s.ctx, c, frame)
	if err != nil {
		log.Info("dispatch failed", zap.Error(err))
		s.metrics.ObserveEvent("unknown", oc.String())
		return
	}
	s.metrics.ObserveEvent(route, oc.String())
}

func (s *Server) writePump(c *Client, log *zap.Logger) {
	ws := c.WS
	ticker := time.NewTicker(s.conf.PingPeriod)
	defer func() {
		ticker.Stop()
		// 统一由写协程发 Close 并关闭底层连接
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.conf.WriteWait))
		_ = ws.Close()
		c.Close()
	}()

	for {
		select {
		case payload := <-c.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Info("write failed", zap.Error(err))
				s.metrics.DeliveryError("ws_write")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.conf.WriteWait)); err != nil {
				log.Info("ping failed", zap.Error(err))
				return
			}
		case <-c.Done():
			return
		}
	}
}

// disconnect 摘除连接；该用户名在本节点和其他节点都没有连接时按离开处理
func (s *Server) disconnect(c *Client, log *zap.Logger) {
	c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.bindMu.Lock()
	user, remaining := s.conns.Remove(c.ConnID)
	others := 0
	if user != "" && remaining == 0 {
		others = s.release(ctx, user)
	}
	s.bindMu.Unlock()

	log.Info("disconnected", zap.String("user", user), zap.Int("remaining", remaining), zap.Int("otherNodes", others))
	if user == "" || remaining > 0 || others > 0 || s.onLeave == nil {
		return
	}
	s.onLeave(ctx, user)
}

func logReadError(log *zap.Logger, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Info("frame exceeds read limit", zap.Error(err))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		log.Debug("peer closed", zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		log.Info("read timeout", zap.Error(err))
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		log.Debug("connection closed", zap.Error(err))
	default:
		log.Info("read error", zap.Error(err))
	}
}
