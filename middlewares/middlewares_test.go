package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSessionMiddleware_CorrelationAndActor(t *testing.T) {
	r := gin.New()
	r.Use(SessionMiddleware())
	var cid, actor string
	r.GET("/x", func(c *gin.Context) {
		cid, _ = utils.GetCorrelationIdFromContext(c.Request.Context())
		actor, _ = utils.GetActorIdFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderCorrelationId, "cid-1")
	req.Header.Set(HeaderActorId, "COL3")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if cid != "cid-1" || actor != "COL3" {
		t.Fatalf("context carried cid=%q actor=%q", cid, actor)
	}
	if w.Header().Get(HeaderCorrelationId) != "cid-1" {
		t.Fatalf("correlation id not echoed")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if cid == "" || cid == "cid-1" || w.Header().Get(HeaderCorrelationId) != cid {
		t.Fatalf("expected a generated correlation id, got %q", cid)
	}
}

func TestReadiness(t *testing.T) {
	ready := false
	r := gin.New()
	r.Use(Readiness(func() bool { return ready }))
	r.GET("/api/parties", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		path  string
		ready bool
		want  int
	}{
		{"/healthz", false, http.StatusNoContent},
		{"/api/parties", false, http.StatusServiceUnavailable},
		{"/api/parties", true, http.StatusOK},
	}
	for _, tc := range cases {
		ready = tc.ready
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s ready=%v: got %d, want %d", tc.path, tc.ready, w.Code, tc.want)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r := gin.New()
	r.Use(NewRateLimiter(client, 2, time.Minute).Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{}
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	// a new window starts once the key expires
	mr.FastForward(2 * time.Minute)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected a fresh window, got %d", w.Code)
	}
}
