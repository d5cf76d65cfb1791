package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const (
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeValidation   = 422
	CodePersistence  = 500
	CodeInternal     = 599
)

var codeNames = map[int]string{
	CodeUnauthorized: "UNAUTHORIZED",
	CodeForbidden:    "FORBIDDEN",
	CodeNotFound:     "NOT_FOUND",
	CodeValidation:   "VALIDATION_FAILED",
	CodePersistence:  "PERSISTENCE_FAILED",
	CodeInternal:     "INTERNAL",
}

var (
	ErrUnauthorized = NewCodeError(CodeUnauthorized, "unauthorized")
	ErrForbidden    = NewCodeError(CodeForbidden, "forbidden")
	ErrNotFound     = NewCodeError(CodeNotFound, "record not found")
	ErrValidation   = NewCodeError(CodeValidation, "validation failed")
	ErrPersistence  = NewCodeError(CodePersistence, "persistence failed")
	ErrInternal     = NewCodeError(CodeInternal, "server internal error")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

// Wrap attaches a stack to a copy of e.
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	c := e.clone()
	if msg != "" || len(kv) > 0 {
		c = c.WithDetail(toString(msg, kv))
	}
	return pkgerrors.WithStack(c)
}

// Is matches any CodeError carrying the same code, so errors.Is(err, ErrForbidden)
// holds for every wrapped copy.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// New builds an internal error with optional key/value detail.
func New(msg string, kv ...any) error {
	return pkgerrors.WithStack(errors.New(toString(msg, kv)))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

// CodeOf returns the code of the first CodeError in err's chain, or CodeInternal.
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// Name returns the wire name for err's code.
func Name(err error) string {
	if n, ok := codeNames[CodeOf(err)]; ok {
		return n
	}
	return codeNames[CodeInternal]
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprint(kv[i]))
		b.WriteString("=")
		if i+1 < len(kv) {
			b.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			b.WriteString("MISSING")
		}
	}
	return b.String()
}
