/*
Copyright 2024 Nullroute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/nullroute/nullroute/config"
)

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/transfers", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		secret       string
		key          string
		expectedCode int
	}{
		{name: "Valid key", path: "/transfers", secret: "master-key", key: "master-key", expectedCode: http.StatusOK},
		{name: "Missing key", path: "/transfers", secret: "master-key", key: "", expectedCode: http.StatusUnauthorized},
		{name: "Wrong key", path: "/transfers", secret: "master-key", key: "guess", expectedCode: http.StatusUnauthorized},
		{name: "Secret not configured", path: "/transfers", secret: "", key: "anything", expectedCode: http.StatusInternalServerError},
		{name: "Health check is open", path: "/", secret: "master-key", key: "", expectedCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config.MockConfig(&config.Configuration{
				Server: config.ServerConfig{Secure: true, SecretKey: tt.secret},
			})
			router := newTestRouter(SecretKeyAuthMiddleware())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		router := newTestRouter(RateLimitMiddleware(&config.Configuration{}))
		for i := 0; i < 10; i++ {
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/transfers", nil))
			assert.Equal(t, http.StatusOK, resp.Code)
		}
	})

	t.Run("Enabled", func(t *testing.T) {
		rps := 1.0
		burst := 2
		router := newTestRouter(RateLimitMiddleware(&config.Configuration{
			RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst},
		}))

		codes := make([]int, 0, 4)
		for i := 0; i < 4; i++ {
			req := httptest.NewRequest(http.MethodGet, "/transfers", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			codes = append(codes, resp.Code)
		}
		assert.Equal(t, http.StatusOK, codes[0])
		assert.Contains(t, codes, http.StatusTooManyRequests)
	})
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "ab"))
}
