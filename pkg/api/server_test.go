package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/fetcher"
	"github.com/stretchr/testify/require"
)

func testAPIConfig(address string, cors config.CORSConfig) *config.APIConfig {
	return &config.APIConfig{
		Enabled:       true,
		ListenAddress: address,
		ReadTimeout:   common.Duration{Duration: 5 * time.Second},
		WriteTimeout:  common.Duration{Duration: 10 * time.Second},
		IdleTimeout:   common.Duration{Duration: 60 * time.Second},
		CORS:          cors,
	}
}

func TestNewServer_AppliesConfig(t *testing.T) {
	t.Parallel()

	cfg := testAPIConfig("127.0.0.1:9191", config.CORSConfig{})
	cfg.ReadTimeout = common.NewDuration(2 * time.Second)
	cfg.IdleTimeout = common.NewDuration(90 * time.Second)

	server := NewServer(cfg, newTestBackend(t).Backend, logger.NewNopLogger())

	require.NotNil(t, server.handler)
	require.Equal(t, "127.0.0.1:9191", server.server.Addr)
	require.Equal(t, 2*time.Second, server.server.ReadTimeout)
	require.Equal(t, 10*time.Second, server.server.WriteTimeout)
	require.Equal(t, 90*time.Second, server.server.IdleTimeout)
}

func TestNewServer_CORSOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	for _, enabled := range []bool{false, true} {
		cors := config.CORSConfig{Enabled: enabled, AllowedOrigins: []string{"https://ui.example"}}
		server := NewServer(testAPIConfig(":0", cors), newTestBackend(t).Backend, logger.NewNopLogger())

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
		req.Header.Set("Origin", "https://ui.example")
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		if enabled {
			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, "https://ui.example", w.Header().Get("Access-Control-Allow-Origin"))
		} else {
			require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		}
	}
}

func TestServer_Start_Disabled(t *testing.T) {
	t.Parallel()

	cfg := testAPIConfig(":8080", config.CORSConfig{})
	cfg.Enabled = false

	b := newTestBackend(t)
	server := NewServer(cfg, b.Backend, logger.NewNopLogger())

	done := make(chan error, 1)
	go func() {
		done <- server.Start(context.Background())
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(1 * time.Second):
		t.Fatal("Start() did not return when server is disabled")
	}
}

func TestServer_Start_GracefulShutdown(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	server := NewServer(testAPIConfig("localhost:0", config.CORSConfig{}), b.Backend, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second): // shutdownCtxTimeout + buffer
		t.Fatal("Server did not shutdown gracefully within timeout")
	}
}

func TestServer_Start_AddressInUse(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	b := newTestBackend(t)
	server := NewServer(testAPIConfig(ln.Addr().String(), config.CORSConfig{}), b.Backend, logger.NewNopLogger())

	err = server.Start(context.Background())
	require.ErrorContains(t, err, "failed to listen")
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	b.status.EXPECT().Status().Return(fetcher.Status{Mode: fetcher.ModeLive, NextHeight: 3, LastProcessed: 2, HasProcessed: true}).Maybe()
	b.commit(t, 1, account("a", "alice"))
	b.commit(t, 2)

	server := NewServer(testAPIConfig(":0", config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}),
		b.Backend, logger.NewNopLogger())

	tests := []struct {
		target       string
		expectedCode int
	}{
		{"/health", http.StatusOK},
		{"/api/v1/status", http.StatusOK},
		{"/api/v1/poi", http.StatusOK},
		{"/api/v1/poi/1", http.StatusOK},
		{"/api/v1/poi/3", http.StatusNotFound},
		{"/api/v1/datasources", http.StatusOK},
		{"/api/v1/entities/Account", http.StatusOK},
		{"/api/v1/entities/Account/a", http.StatusOK},
		{"/api/v1/entities/Account/b", http.StatusNotFound},
		{"/api/v1/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.Header.Set("Origin", "https://example.com")
			w := httptest.NewRecorder()

			server.server.Handler.ServeHTTP(w, req)

			require.Equal(t, tt.expectedCode, w.Code)
			require.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
			if tt.expectedCode == http.StatusOK {
				require.True(t, json.Valid(w.Body.Bytes()))
			}
		})
	}
}
