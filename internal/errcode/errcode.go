package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：请求或远端业务错误（用户可修正或重试）
// - 5xxx：系统错误（连接、协议、超时等）
const (
	OK = 0

	InvalidRequest  = 4000
	QuotaExceeded   = 4029
	ResourceMissing = 4004
	JobRejected     = 4220 // 远端服务返回了 error 帧

	SystemError    = 5000
	JobConnection  = 5010
	JobProtocol    = 5020
	JobClosed      = 5030
	JobTimeout     = 5040
	ArtifactMirror = 5050
	JobCanceled    = 5060
)

var messages = map[int]string{
	OK:              "ok",
	InvalidRequest:  "invalid request",
	QuotaExceeded:   "daily job quota exceeded",
	ResourceMissing: "resource missing",
	JobRejected:     "job failed",
	SystemError:     "internal error",
	JobConnection:   "job service unreachable",
	JobProtocol:     "job service sent an invalid response",
	JobClosed:       "job connection closed unexpectedly",
	JobTimeout:      "job timed out",
	ArtifactMirror:  "artifact could not be stored",
	JobCanceled:     "job canceled",
}

// Message returns the default text for a code.
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[SystemError]
}
