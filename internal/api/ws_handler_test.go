package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portraitStudio/internal/auth"
)

type stubVerifier map[string]string

func (v stubVerifier) ValidateToken(token string) (*auth.Claims, error) {
	uid, ok := v[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uid}}, nil
}

type chanSubscription struct {
	ch     chan string
	closed chan struct{}
	once   sync.Once
}

func (s *chanSubscription) Messages() <-chan string { return s.ch }
func (s *chanSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type chanSubscriber struct {
	mu       sync.Mutex
	channels []string
	sub      *chanSubscription
	ready    chan struct{}
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{
		sub:   &chanSubscription{ch: make(chan string, 4), closed: make(chan struct{})},
		ready: make(chan struct{}),
	}
}

func (s *chanSubscriber) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s.mu.Lock()
	s.channels = append(s.channels, channel)
	s.mu.Unlock()
	close(s.ready)
	return s.sub, nil
}

func newWsServer(t *testing.T, sub Subscriber) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewWsHandler(sub, stubVerifier{"good": "user-9"}, nil, nil)
	r := gin.New()
	r.GET("/v1/ws", h.HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
}

func TestWsForwardsUserNotifications(t *testing.T) {
	sub := newChanSubscriber()
	url := newWsServer(t, sub)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsAuthMessage{Type: "auth", Token: "good"}))

	select {
	case <-sub.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not created")
	}
	assert.Equal(t, []string{"job_notify:user-9"}, sub.channels)

	sub.sub.ch <- `{"status":"completed","job_id":"j1"}`

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed","job_id":"j1"}`, string(msg))

	require.NoError(t, conn.Close())
	select {
	case <-sub.sub.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after client left")
	}
}

func TestWsRejectsBadAuth(t *testing.T) {
	cases := map[string]string{
		"wrong type":  `{"type":"hello","token":"good"}`,
		"bad token":   `{"type":"auth","token":"nope"}`,
		"not json":    `auth good`,
		"empty token": `{"type":"auth"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			sub := newChanSubscriber()
			url := newWsServer(t, sub)

			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			require.NoError(t, err)
			defer conn.Close()

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, _, err = conn.ReadMessage()

			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
			assert.Empty(t, sub.channels)
		})
	}
}

func TestOriginChecker(t *testing.T) {
	req := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://"+host+"/v1/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	sameHost := originChecker(nil)
	assert.True(t, sameHost(req("", "api.example.com")))
	assert.True(t, sameHost(req("https://api.example.com", "api.example.com")))
	assert.False(t, sameHost(req("https://evil.example.com", "api.example.com")))

	listed := originChecker([]string{"https://studio.example.com"})
	assert.True(t, listed(req("https://studio.example.com", "api.example.com")))
	assert.False(t, listed(req("https://api.example.com", "api.example.com")))
}
