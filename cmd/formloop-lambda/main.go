// File path: cmd/formloop-lambda/main.go

// Lambda front end. Each invocation is one state machine step: the engine
// rehydrates the session from the object store, applies the request, and
// persists before responding. API Gateway proxy events are translated into
// plain HTTP requests against the same handlers the server binary uses.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"formloop/internal/api"
	"formloop/internal/common"
	"formloop/internal/engine"
	"formloop/internal/llm"
	"formloop/internal/registry"
	"formloop/internal/store"
)

var server *api.Server

func main() {
	logger := common.Logger()
	ctx := context.Background()

	cfg, err := engine.LoadConfig("", "")
	if err != nil {
		logger.Error("formloop: configuration load failed", "error", err)
		fmt.Println("configuration error:", err)
		os.Exit(1)
	}

	blobs, err := buildStore(ctx)
	if err != nil {
		logger.Error("formloop: session store unavailable", "error", err)
		fmt.Println("session store error:", err)
		os.Exit(1)
	}

	reg, err := registry.NewBlobRegistry(blobs)
	if err != nil {
		logger.Error("formloop: session registry unavailable", "error", err)
		fmt.Println("session registry error:", err)
		os.Exit(1)
	}

	provider := llm.NewProvider()
	logger.Info("formloop: llm provider ready", "provider", provider.Name())

	eng, err := engine.New(cfg, provider, blobs, reg)
	if err != nil {
		logger.Error("formloop: engine construction failed", "error", err)
		fmt.Println("engine error:", err)
		os.Exit(1)
	}

	server, err = api.NewServer(eng)
	if err != nil {
		logger.Error("formloop: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	lambda.Start(handle)
}

// buildStore prefers S3 when FORMLOOP_S3_BUCKET is set; otherwise it falls
// back to the Lambda scratch disk, which only survives warm invocations.
func buildStore(ctx context.Context) (store.Blob, error) {
	logger := common.Logger()
	if bucket := strings.TrimSpace(os.Getenv("FORMLOOP_S3_BUCKET")); bucket != "" {
		prefix := strings.TrimSpace(os.Getenv("FORMLOOP_S3_PREFIX"))
		logger.Info("formloop: using s3 session store", "bucket", bucket, "prefix", prefix)
		return store.NewS3Store(ctx, bucket, prefix)
	}
	logger.Warn("formloop: FORMLOOP_S3_BUCKET not set, sessions will not survive cold starts")
	return store.NewFSStore("/tmp/formloop-sessions")
}

func handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req, err := translate(ctx, event)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       fmt.Sprintf(`{"error":%q}`, err.Error()),
		}, nil
	}

	rec := &responseRecorder{header: make(http.Header)}
	server.ServeHTTP(rec, req)

	headers := make(map[string]string, len(rec.header))
	for key := range rec.header {
		headers[key] = rec.header.Get(key)
	}
	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       rec.body.String(),
	}, nil
}

func translate(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	path := event.Path
	if path == "" {
		path = "/"
	}
	target := &url.URL{Path: path}
	if len(event.QueryStringParameters) > 0 {
		query := url.Values{}
		for key, value := range event.QueryStringParameters {
			query.Set(key, value)
		}
		target.RawQuery = query.Encode()
	}

	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("decode request body: %w", err)
		}
		body = string(decoded)
	}

	method := event.HTTPMethod
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, err
	}
	for key, value := range event.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// responseRecorder captures the handler's response for translation back
// into a proxy response.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}
