package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"portraitStudio/internal/config"
	"portraitStudio/internal/metrics"
)

const (
	defaultSpeechTimeout = 60 * time.Second
	defaultImageTimeout  = 120 * time.Second
	defaultCloseGrace    = time.Second
	closeWriteWait       = 5 * time.Second
)

// TokenSource 提供访问远端服务的 Bearer Token。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusFunc 接收非终止的进度事件，按到达顺序同步调用。
type StatusFunc func(Event)

// Result 是终止成功帧携带的产物信息。
type Result struct {
	Kind           Kind            `json:"kind" yaml:"kind"`
	URL            string          `json:"url" yaml:"url"`
	Message        string          `json:"message,omitempty" yaml:"message,omitempty"`
	ProcessingTime *ProcessingTime `json:"processing_time,omitempty" yaml:"processing_time,omitempty"`
	Raw            json.RawMessage `json:"-" yaml:"-"`
}

// Client 对每次调用建立独立的 WebSocket 连接：发送一帧请求，转发进度，
// 在成功、失败、异常关闭或超时时返回且仅返回一次。
// Client 本身无共享可变状态，可被多个 goroutine 并发使用。
type Client struct {
	endpoints     map[Kind]string
	speechTimeout time.Duration
	imageTimeout  time.Duration
	closeGrace    time.Duration
	dialer        *websocket.Dialer
	tokens        TokenSource
	logger        *slog.Logger
}

// NewClient 根据配置构造任务客户端；tokens 可以为 nil。
func NewClient(cfg config.JobsConfig, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		endpoints: map[Kind]string{
			KindSpeech:     strings.TrimSpace(cfg.SpeechURL),
			KindAge:        strings.TrimSpace(cfg.AgeURL),
			KindBackground: strings.TrimSpace(cfg.BackgroundURL),
		},
		speechTimeout: cfg.SpeechTimeout,
		imageTimeout:  cfg.ImageTimeout,
		closeGrace:    cfg.CloseGrace,
		tokens:        tokens,
		logger:        logger,
	}
	if c.speechTimeout <= 0 {
		c.speechTimeout = defaultSpeechTimeout
	}
	if c.imageTimeout <= 0 {
		c.imageTimeout = defaultImageTimeout
	}
	if c.closeGrace < 0 {
		c.closeGrace = defaultCloseGrace
	}

	dialer := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}
	c.dialer = &dialer
	return c
}

// Timeout returns the overall deadline applied to jobs of the given kind.
func (c *Client) Timeout(kind Kind) time.Duration {
	if kind == KindSpeech {
		return c.speechTimeout
	}
	return c.imageTimeout
}

type inboundFrame struct {
	data []byte
	err  error
}

// Run 执行一次任务交换。超时从发起连接开始计算，是整体截止时间而非空闲超时。
// 取消 ctx 只会中止本地等待并关闭连接，不会取消服务端计算。
func (c *Client) Run(ctx context.Context, req Request, onStatus StatusFunc) (*Result, error) {
	if req == nil {
		return nil, errors.New("job request is nil")
	}
	kind := req.Kind()
	endpoint := c.endpoints[kind]
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint configured for %s jobs", kind)
	}

	start := time.Now()
	done := metrics.JobStarted(string(kind))
	res, err := c.run(ctx, kind, endpoint, req, onStatus)
	done()
	metrics.ObserveJob(string(kind), Outcome(err), time.Since(start))
	return res, err
}

func (c *Client) run(ctx context.Context, kind Kind, endpoint string, req Request, onStatus StatusFunc) (*Result, error) {
	timeout := c.Timeout(kind)
	log := c.logger.With(slog.String("kind", string(kind)), slog.String("endpoint", endpoint))

	payload, err := json.Marshal(req.Envelope())
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", kind, err)
	}

	header := http.Header{}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch bearer token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	// Connecting：截止时间在拨号前启动，任何退出路径都会通过 cancel 释放。
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(runCtx, endpoint, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s job canceled: %w", kind, ctx.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	// Open：立即发送唯一的一帧请求，不重试。
	if deadline, ok := runCtx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: send request: %w", ErrConnection, err)
	}
	log.Debug("job request sent")

	frames := make(chan inboundFrame)
	stop := make(chan struct{})
	defer close(stop)
	go readLoop(conn, frames, stop)

	for {
		select {
		case <-runCtx.Done():
			closeNow(conn, websocket.CloseNormalClosure, "")
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s job canceled: %w", kind, ctx.Err())
			}
			log.Warn("job timed out", slog.Duration("timeout", timeout))
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)

		case in := <-frames:
			if in.err != nil {
				_ = conn.Close()
				var closeErr *websocket.CloseError
				if errors.As(in.err, &closeErr) {
					log.Warn("job connection closed before result",
						slog.Int("code", closeErr.Code),
						slog.String("reason", closeErr.Text),
					)
					return nil, fmt.Errorf("%w: %d %s", ErrClosed, closeErr.Code, closeErr.Text)
				}
				return nil, fmt.Errorf("%w: %w", ErrConnection, in.err)
			}

			ev, err := parseFrame(kind, in.data)
			if err != nil {
				closeNow(conn, websocket.CloseUnsupportedData, "malformed frame")
				log.Warn("malformed job frame", slog.Any("error", err))
				return nil, err
			}

			switch ev.Type {
			case EventProgress:
				metrics.ObserveProgress(string(kind))
				c.notify(log, onStatus, ev)
			case EventSuccess:
				cancel()
				c.closeAfterGrace(conn)
				log.Info("job completed", slog.String("url", ev.URL))
				return &Result{
					Kind:           kind,
					URL:            ev.URL,
					Message:        ev.Message,
					ProcessingTime: ev.ProcessingTime,
					Raw:            ev.Raw,
				}, nil
			case EventFailure:
				closeNow(conn, websocket.CloseNormalClosure, "")
				msg := strings.TrimSpace(ev.Message)
				if msg == "" {
					msg = defaultFailureMessage(kind)
				}
				log.Warn("job failed", slog.String("message", msg))
				return nil, &ServerError{Kind: kind, Message: msg}
			}
		}
	}
}

// readLoop 是连接上唯一的读者；stop 关闭后丢弃后续帧并退出。
func readLoop(conn *websocket.Conn, frames chan<- inboundFrame, stop <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		select {
		case frames <- inboundFrame{data: data, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) notify(log *slog.Logger, onStatus StatusFunc, ev Event) {
	if onStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("status callback panicked", slog.Any("panic", r), slog.String("status", ev.Status))
		}
	}()
	onStatus(ev)
}

// closeAfterGrace 在成功后延迟关闭连接，使服务端来得及完成自己的收尾。
func (c *Client) closeAfterGrace(conn *websocket.Conn) {
	time.AfterFunc(c.closeGrace, func() {
		closeNow(conn, websocket.CloseNormalClosure, "")
	})
}

func closeNow(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(closeWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = conn.Close()
}
