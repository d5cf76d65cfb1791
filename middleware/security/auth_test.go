package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"CragProject/tools/errs"

	"github.com/gin-gonic/gin"
)

func TestCredentialSources(t *testing.T) {
	cases := []struct {
		name  string
		build func(r *http.Request)
		want  string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc"},
		{"bearer case", func(r *http.Request) { r.Header.Set("Authorization", "bearer  abc ") }, "abc"},
		{"raw header", func(r *http.Request) { r.Header.Set("authorization", "raw-tok") }, "raw-tok"},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=q1" }, "q1"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: "ck"}) }, "ck"},
		{"header wins", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer h")
			r.URL.RawQuery = "token=q"
			r.AddCookie(&http.Cookie{Name: "session", Value: "c"})
		}, "h"},
		{"empty bearer falls through", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer ")
			r.URL.RawQuery = "token=q"
		}, "q"},
		{"none", func(*http.Request) {}, ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		tc.build(r)
		if got := Credential(r, nil); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

type staticIdentity map[string]string

func (s staticIdentity) Resolve(_ context.Context, cred string) (string, error) {
	if uid, ok := s[cred]; ok {
		return uid, nil
	}
	return "", errs.ErrUnauthorized.WrapMsg("unknown credential")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(staticIdentity{"good": "u1"}, nil), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	for _, tc := range []struct {
		auth   string
		status int
		body   string
	}{
		{"Bearer good", http.StatusOK, "u1"},
		{"Bearer bad", http.StatusUnauthorized, ""},
		{"", http.StatusUnauthorized, ""},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("%q: status=%d want %d", tc.auth, w.Code, tc.status)
		}
		if tc.body != "" && w.Body.String() != tc.body {
			t.Fatalf("%q: body=%q", tc.auth, w.Body.String())
		}
	}
}
