package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 120*time.Second, cfg.WriteTimeout)
	assert.Equal(t, int64(10<<20), cfg.MaxRequestBodySize)
}

func TestServer_Addr(t *testing.T) {
	t.Parallel()

	s := NewServer(&ServerConfig{Address: "127.0.0.1", Port: 9000}, nil)
	assert.Equal(t, "127.0.0.1:9000", s.Addr())
	assert.NotNil(t, s.Engine())
	assert.False(t, s.IsRunning())
}

func TestServer_ServeAndStop(t *testing.T) {
	t.Parallel()

	s := NewServer(&ServerConfig{Name: "test", MaxRequestBodySize: 8}, nil)
	s.Engine().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	s.Engine().POST("/echo", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, string(body))
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	require.Eventually(t, s.IsRunning, time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	resp, err = http.Post(base+"/echo", "text/plain", strings.NewReader("much too long"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err = http.Get(base + "/echo")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Serve(ln2), ErrServerRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-errCh)
	assert.False(t, s.IsRunning())

	assert.NoError(t, s.Stop(ctx))
}

func TestServer_StartInvalidAddress(t *testing.T) {
	t.Parallel()

	s := NewServer(&ServerConfig{Address: "256.0.0.1", Port: 1}, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
