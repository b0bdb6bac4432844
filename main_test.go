package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpointsBeforeInit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	setupHealthEndpoints(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/startup", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Database and scheduler are not up yet
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadinessDuringBackgroundInit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	setupHealthEndpoints(router)

	// Background init publishes the scheduler and readiness flag while
	// requests are already being served; every access must go through
	// the mutex.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			dbInitMutex.Lock()
			dbInitialized = false
			jobScheduler = nil
			dbInitMutex.Unlock()
		}
	}()

	for {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		select {
		case <-done:
			return
		default:
		}
	}
}
