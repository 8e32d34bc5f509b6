package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
)

// Response is the JSON body served by FastHTTPHandler
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// FastHTTPHandler serves the registry as JSON: 200 when every check is up,
// 503 otherwise.
func (r *Registry) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		status, checks := r.Check(context.Background())

		body, err := json.Marshal(Response{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checks,
		})
		if err != nil {
			ctx.Error("failed to encode health response", fasthttp.StatusInternalServerError)
			return
		}

		code := fasthttp.StatusOK
		if status == StatusDown {
			code = fasthttp.StatusServiceUnavailable
		}
		ctx.SetStatusCode(code)
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	}
}
