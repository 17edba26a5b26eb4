package jobs

import (
	"context"
	"errors"
)

// 调用方只需要展示失败信息；哨兵错误用于 errors.Is 做更细的分类。
var (
	ErrConnection = errors.New("websocket connection failed")
	ErrProtocol   = errors.New("malformed job frame")
	ErrTimeout    = errors.New("websocket connection timeout")
	ErrClosed     = errors.New("websocket connection closed unexpectedly")
)

// ServerError 表示远端服务显式返回的 error 帧。
type ServerError struct {
	Kind    Kind
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

func defaultFailureMessage(kind Kind) string {
	switch kind {
	case KindSpeech:
		return "TTS generation failed"
	case KindAge:
		return "Age transformation failed"
	case KindBackground:
		return "Background replacement failed"
	default:
		return "job failed"
	}
}

// Outcome 把 Run 的返回错误归类为指标/通知使用的短标签。
func Outcome(err error) string {
	var serverErr *ServerError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &serverErr):
		return "server_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrConnection):
		return "connection_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
