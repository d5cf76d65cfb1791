package security

import (
	"net/http"
	"strings"

	"CragProject/tools/errs"
	toolsec "CragProject/tools/security"

	"github.com/gin-gonic/gin"
)

// handlers behind Middleware read the resolved user through these keys
const (
	CtxUserIDKey     = "crag.userId"
	CtxCredentialKey = "crag.credential"
)

type Options struct {
	HeaderToken               string // 默认 "Authorization"
	EnableAuthorizationBearer bool   // 默认 true
	QueryToken                string // 默认 "token"，浏览器 websocket 无法带 header
	CookieName                string // 默认 "session"
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               "Authorization",
		EnableAuthorizationBearer: true,
		QueryToken:                "token",
		CookieName:                "session",
	}
}

// Credential returns the first non-empty credential carried by r:
// bearer header, raw authorization header, query parameter, then cookie.
func Credential(r *http.Request, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	if r == nil {
		return ""
	}
	if authz := strings.TrimSpace(r.Header.Get(opts.HeaderToken)); authz != "" {
		// 兼容 Authorization: Bearer xxx
		if opts.EnableAuthorizationBearer && hasBearerPrefix(authz) {
			if tok := strings.TrimSpace(authz[len("bearer"):]); tok != "" {
				return tok
			}
		} else {
			return authz
		}
	}
	if opts.QueryToken != "" {
		if tok := strings.TrimSpace(r.URL.Query().Get(opts.QueryToken)); tok != "" {
			return tok
		}
	}
	if opts.CookieName != "" {
		if ck, err := r.Cookie(opts.CookieName); err == nil {
			if tok := strings.TrimSpace(ck.Value); tok != "" {
				return tok
			}
		}
	}
	return ""
}

func hasBearerPrefix(v string) bool {
	const p = "bearer"
	if len(v) < len(p) || !strings.EqualFold(v[:len(p)], p) {
		return false
	}
	return len(v) == len(p) || v[len(p)] == ' '
}

// Middleware resolves the request credential through id and aborts with 401
// when it cannot.
func Middleware(id toolsec.Identity, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		cred := Credential(c.Request, opts)
		if cred == "" {
			abortUnauthorized(c, errs.ErrUnauthorized.WrapMsg("missing credential"))
			return
		}
		userID, err := id.Resolve(c.Request.Context(), cred)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		c.Set(CtxCredentialKey, cred)
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

// UserID returns the user resolved by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    errs.Name(errs.ErrUnauthorized),
		"message": err.Error(),
	})
}
