package pipeline

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veloxapp/authcore/pkg/logger"
)

const (
	maskToken      = "***"
	maxCapturedLen = 4096
)

// sensitiveHeaders are always masked in logs, whatever their value.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
}

// sensitiveFieldPattern masks JSON values whose field name contains a
// credential-ish word. Matches string and bare scalar values.
var sensitiveFieldPattern = regexp.MustCompile(
	`(?i)"([^"]*(?:password|token|secret|credential)[^"]*)"\s*:\s*("(?:[^"\\]|\\.)*"|[^,}\]\s]+)`)

// LoggingInterceptor logs each request and response with credentials masked.
// Logging is strictly best-effort: a failure capturing either body is noted
// and swallowed, never propagated into the request path.
type LoggingInterceptor struct {
	log *zap.Logger
}

// NewLoggingInterceptor builds the sanitizing log stage.
func NewLoggingInterceptor() *LoggingInterceptor {
	return &LoggingInterceptor{log: logger.WithModule("pipeline.http")}
}

// Intercept implements Interceptor.
func (l *LoggingInterceptor) Intercept(req *http.Request, next Next) (*http.Response, error) {
	requestID := uuid.NewString()

	l.log.Debug("request",
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Strings("headers", SanitizeHeaders(req.Header)),
		zap.String("body", l.captureRequestBody(req)))

	start := time.Now()
	resp, err := next(req)
	duration := time.Since(start)

	if err != nil {
		l.log.Debug("request failed",
			zap.String("request_id", requestID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return resp, err
	}

	l.log.Debug("response",
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
		zap.Strings("headers", SanitizeHeaders(resp.Header)),
		zap.String("body", l.captureResponseBody(resp)))

	return resp, nil
}

// SanitizeHeaders renders headers as "Name: value" lines with sensitive
// header values replaced by the mask token.
func SanitizeHeaders(h http.Header) []string {
	lines := make([]string, 0, len(h))
	for name, values := range h {
		if _, sensitive := sensitiveHeaders[strings.ToLower(name)]; sensitive {
			lines = append(lines, name+": "+maskToken)
			continue
		}
		for _, v := range values {
			lines = append(lines, name+": "+v)
		}
	}
	return lines
}

// SanitizeBody masks the values of credential-ish JSON fields.
func SanitizeBody(body string) string {
	return sensitiveFieldPattern.ReplaceAllString(body, `"$1":"`+maskToken+`"`)
}

// captureRequestBody reads and restores the request body. Any failure yields
// a placeholder rather than an error.
func (l *LoggingInterceptor) captureRequestBody(req *http.Request) (captured string) {
	defer func() {
		if r := recover(); r != nil {
			captured = "<body capture failed>"
		}
	}()

	if req.Body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, maxCapturedLen))
	_ = req.Body.Close()
	if err != nil {
		req.Body = io.NopCloser(bytes.NewReader(data))
		return "<body capture failed>"
	}

	if req.GetBody != nil {
		if fresh, gbErr := req.GetBody(); gbErr == nil {
			req.Body = fresh
		} else {
			req.Body = io.NopCloser(bytes.NewReader(data))
		}
	} else {
		req.Body = io.NopCloser(bytes.NewReader(data))
	}

	return SanitizeBody(string(data))
}

// captureResponseBody reads and restores the response body.
func (l *LoggingInterceptor) captureResponseBody(resp *http.Response) (captured string) {
	defer func() {
		if r := recover(); r != nil {
			captured = "<body capture failed>"
		}
	}()

	if resp.Body == nil {
		return ""
	}

	var buf bytes.Buffer
	data, err := io.ReadAll(io.LimitReader(io.TeeReader(resp.Body, &buf), maxCapturedLen))
	if err != nil {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(&buf, resp.Body), resp.Body}
		return "<body capture failed>"
	}

	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf.Bytes()), resp.Body), resp.Body}

	return SanitizeBody(string(data))
}
