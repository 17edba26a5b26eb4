package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portrait",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "网关 HTTP 请求耗时分布（秒）。",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "class"},
	)

	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portrait",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "网关 HTTP 请求总数。",
		},
		[]string{"method", "route", "status"},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "portrait",
			Subsystem: "http",
			Name:      "notify_connections",
			Help:      "当前打开的任务通知 WebSocket 连接数。",
		},
	)
)

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requestDuration, requestTotal, wsConnections)
	})
}

// statusClass 把状态码折叠成 2xx/4xx/5xx，控制直方图基数。
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// GinMiddleware 为网关的 Gin 路由注册 Prometheus 指标采集逻辑。
// 未匹配路由统一记为 "unmatched"，避免任意路径撑爆标签。
func GinMiddleware() gin.HandlerFunc {
	register()

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		requestDuration.WithLabelValues(c.Request.Method, route, statusClass(status)).Observe(time.Since(start).Seconds())
		requestTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
	}
}

// NotifyConnectionOpened 计数一个通知连接，返回值在连接关闭时调用。
func NotifyConnectionOpened() func() {
	register()
	wsConnections.Inc()
	return wsConnections.Dec
}
