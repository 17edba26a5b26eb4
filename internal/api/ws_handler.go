package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"portraitStudio/internal/api/middleware"
	"portraitStudio/internal/metrics"
	"portraitStudio/internal/worker"
)

const (
	defaultPingInterval = 30 * time.Second
	authWait            = 10 * time.Second
)

// Subscription 是一次频道订阅，Messages 在订阅结束时关闭。
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// Subscriber 订阅任务通知频道。
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

type redisSubscriber struct {
	client *redis.Client
}

// NewRedisSubscriber 用 Redis Pub/Sub 实现 Subscriber。
func NewRedisSubscriber(client *redis.Client) Subscriber {
	return redisSubscriber{client: client}
}

func (s redisSubscriber) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	// 等待订阅确认，连接失败时尽早返回。
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return &redisSubscription{pubsub: pubsub, out: out}, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan string
}

func (s *redisSubscription) Messages() <-chan string { return s.out }
func (s *redisSubscription) Close() error            { return s.pubsub.Close() }

// WsHandler 负责 WebSocket 鉴权，并把当前用户的任务通知转发给浏览器。
type WsHandler struct {
	subscriber   Subscriber
	verifier     middleware.TokenVerifier
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewWsHandler 构造 WebSocket 处理器；allowedOrigins 为空时只接受同源请求。
func NewWsHandler(subscriber Subscriber, verifier middleware.TokenVerifier, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WsHandler{
		subscriber:   subscriber,
		verifier:     verifier,
		logger:       logger,
		pingInterval: defaultPingInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(allowed) == 0 {
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		}
		for _, o := range allowed {
			if origin == o {
				return true
			}
		}
		return false
	}
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

var errAuthRequired = errors.New("auth required")

// HandleConnection 升级连接；首条消息必须是 {"type":"auth","token":...}。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
		slog.String("correlation_id", middleware.GetCorrelationID(c)),
	)

	userID, err := h.authenticate(conn)
	if err != nil {
		log.Warn("websocket authentication failed", slog.Any("error", err))
		return
	}
	log = log.With(slog.String("user_id", userID))

	channel := worker.NotifyChannel(userID)
	sub, err := h.subscriber.Subscribe(ctx, channel)
	if err != nil {
		writeClose(conn, websocket.CloseInternalServerErr, "subscribe failed")
		log.Error("subscribe notify channel failed", slog.Any("error", err))
		return
	}
	defer sub.Close()
	defer metrics.NotifyConnectionOpened()()
	log.Info("websocket authenticated", slog.String("channel", channel))

	errCh := make(chan error, 2)
	go h.drain(conn, errCh, cancel)
	go h.forward(ctx, conn, sub, errCh, cancel, log)

	select {
	case <-ctx.Done():
		log.Info("websocket connection closed")
	case err := <-errCh:
		log.Info("websocket connection closed", slog.Any("error", err))
	}
}

func (h *WsHandler) authenticate(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(authWait))
	_, message, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read auth message: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var msg wsAuthMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, "invalid auth payload")
		return "", fmt.Errorf("decode auth payload: %w", err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		writeClose(conn, websocket.ClosePolicyViolation, errAuthRequired.Error())
		return "", errAuthRequired
	}

	claims, err := h.verifier.ValidateToken(msg.Token)
	if err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
		return "", fmt.Errorf("validate token: %w", err)
	}
	return claims.UserID(), nil
}

// drain 持续读取客户端消息以感知断开，内容本身被忽略。
func (h *WsHandler) drain(conn *websocket.Conn, errCh chan<- error, cancel context.CancelFunc) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}
	}
}

func (h *WsHandler) forward(
	ctx context.Context,
	conn *websocket.Conn,
	sub Subscription,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	messages := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-messages:
			if !ok {
				errCh <- errors.New("subscription closed")
				cancel()
				return
			}
			log.Debug("forwarding job notification")
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
