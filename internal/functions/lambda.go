package functions

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"

	"github.com/portalsalud/portal-colaboradores/internal/http/middleware"
)

// Router serves the functions under /functions with FunctionsAuth, plus an
// open /health. user authenticates callers without the shared secret; nil
// leaves the functions secret-only.
func Router(h *Handler, sharedSecret string, user func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/functions", func(r chi.Router) {
		r.Use(middleware.FunctionsAuth(sharedSecret, user))
		h.Routes(r)
	})
	return r
}

// LambdaHandler adapts an http.Handler to API Gateway HTTP API (v2) events.
func LambdaHandler(next http.Handler) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
		if method == "" {
			method = http.MethodGet
		}
		path := strings.TrimSpace(evt.RawPath)
		if path == "" {
			path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
		}
		body, err := decodeBody(evt)
		if err != nil {
			return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
		}

		target := path
		if qs := strings.TrimSpace(evt.RawQueryString); qs != "" {
			target += "?" + qs
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid request"}, nil
		}
		for k, v := range evt.Headers {
			req.Header.Set(k, v)
		}
		if ip := strings.TrimSpace(evt.RequestContext.HTTP.SourceIP); ip != "" {
			req.RemoteAddr = ip + ":0"
			if req.Header.Get("X-Forwarded-For") == "" {
				req.Header.Set("X-Forwarded-For", ip)
			}
		}

		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, req)

		out := events.APIGatewayV2HTTPResponse{
			StatusCode: rec.Code,
			Body:       rec.Body.String(),
			Headers:    map[string]string{},
		}
		for k := range rec.Header() {
			out.Headers[strings.ToLower(k)] = rec.Header().Get(k)
		}
		return out, nil
	}
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}
