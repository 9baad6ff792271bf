package main

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"

	"chatgraph/interfaces/http/rest/middleware"
)

func TestApplyAuthorizerContext(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		authorizer *events.APIGatewayV2HTTPRequestContextAuthorizerDescription
		want       map[string]string
	}{
		{
			name:    "forged headers are dropped without an authorizer",
			headers: map[string]string{"x-api-gateway-authorized": "true", "x-user-id": "mallory", "accept": "application/json"},
			want:    map[string]string{"accept": "application/json"},
		},
		{
			name:    "claims become identity headers",
			headers: map[string]string{"X-User-ID": "mallory"},
			authorizer: &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
				JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{
					Claims: map[string]string{"sub": "user-1", "email": "u1@example.com"},
					Scopes: []string{"chat.read", "chat.write"},
				},
			},
			want: map[string]string{
				middleware.HeaderGatewayAuthorized: "true",
				middleware.HeaderUserID:            "user-1",
				middleware.HeaderUserEmail:         "u1@example.com",
				middleware.HeaderUserRoles:         "chat.read,chat.write",
			},
		},
		{
			name: "claims without a subject are ignored",
			authorizer: &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
				JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{
					Claims: map[string]string{"email": "u1@example.com"},
				},
			},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := events.APIGatewayV2HTTPRequest{Headers: tt.headers}
			req.RequestContext.Authorizer = tt.authorizer

			applyAuthorizerContext(&req)

			assert.Equal(t, tt.want, req.Headers)
		})
	}
}
