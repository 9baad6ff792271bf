package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chatgraph/infrastructure/config"
	"chatgraph/infrastructure/di"
	"chatgraph/interfaces/http/rest/middleware"
)

// Global variables for Lambda lifecycle management
var (
	// chiLambda wraps the Chi router for AWS Lambda integration
	chiLambda *chiadapter.ChiLambdaV2

	// container holds the dependency injection container
	container *di.Container

	// coldStart tracks whether this is a cold start invocation
	coldStart = true

	// coldStartTime records when the cold start began
	coldStartTime time.Time
)

// init runs during cold start
func init() {
	coldStartTime = time.Now()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// The container lives as long as the execution environment, so its
	// cleanup is never run.
	container, _, err = di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	chiRouter, ok := container.Handler.(*chi.Mux)
	if !ok {
		log.Fatal("Failed to cast handler to chi.Mux")
	}
	chiLambda = chiadapter.NewV2(chiRouter)

	container.Logger.Info("Lambda cold start completed",
		zap.Duration("duration", time.Since(coldStartTime)),
	)
}

// Handler is the Lambda function handler
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	applyAuthorizerContext(&req)

	resp, err := chiLambda.ProxyWithContextV2(ctx, req)

	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	if coldStart {
		resp.Headers["X-Cold-Start"] = "true"
		resp.Headers["X-Cold-Start-Duration"] = time.Since(coldStartTime).String()
		coldStart = false
	} else {
		resp.Headers["X-Cold-Start"] = "false"
	}
	if req.RequestContext.RequestID != "" {
		resp.Headers["X-Request-ID"] = req.RequestContext.RequestID
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		container.Logger.Error("Lambda error response",
			zap.String("method", req.RequestContext.HTTP.Method),
			zap.String("path", req.RequestContext.HTTP.Path),
			zap.String("request_id", req.RequestContext.RequestID),
			zap.Int("status_code", resp.StatusCode),
		)
	}

	return resp, err
}

// applyAuthorizerContext replaces any caller-supplied identity headers with
// the claims API Gateway's JWT authorizer already verified.
func applyAuthorizerContext(req *events.APIGatewayV2HTTPRequest) {
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	for key := range req.Headers {
		switch strings.ToLower(key) {
		case strings.ToLower(middleware.HeaderGatewayAuthorized),
			strings.ToLower(middleware.HeaderUserID),
			strings.ToLower(middleware.HeaderUserEmail),
			strings.ToLower(middleware.HeaderUserRoles):
			delete(req.Headers, key)
		}
	}

	authz := req.RequestContext.Authorizer
	if authz == nil || authz.JWT == nil {
		return
	}
	sub := authz.JWT.Claims["sub"]
	if sub == "" {
		return
	}

	req.Headers[middleware.HeaderGatewayAuthorized] = "true"
	req.Headers[middleware.HeaderUserID] = sub
	if email := authz.JWT.Claims["email"]; email != "" {
		req.Headers[middleware.HeaderUserEmail] = email
	}
	if len(authz.JWT.Scopes) > 0 {
		req.Headers[middleware.HeaderUserRoles] = strings.Join(authz.JWT.Scopes, ",")
	}
}

// main is the entry point for the Lambda function
func main() {
	lambda.Start(Handler)
}
