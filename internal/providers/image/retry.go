package image

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"gensvc/internal/domain"
)

// IsTransient reports whether err is worth a single retry: rate limiting,
// upstream 5xx, network timeouts, or a provider message saying so.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.Status > 0 {
		return perr.Status == http.StatusTooManyRequests || perr.Status >= http.StatusInternalServerError
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "internalerror"), strings.Contains(msg, "internal error"):
		return true
	case strings.Contains(msg, "service unavailable"), strings.Contains(msg, "server unavailable"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"):
		return true
	}
	return false
}

// Retry runs call and, when retries > 0 and the failure is transient,
// runs it once more. A canceled context is never retried.
func Retry[T any](ctx context.Context, retries int, call func(context.Context) (T, error)) (T, error) {
	out, err := call(ctx)
	if err == nil || retries <= 0 || !IsTransient(err) || ctx.Err() != nil {
		return out, err
	}
	return call(ctx)
}
