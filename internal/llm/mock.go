package llm

import (
	"context"

	"github.com/ontoloom/ontoloom/internal/domain"
)

// MockClient is a configurable completion client for testing.
// Set Response/Err to control the result; Responses (if non-empty) is consumed
// one element per call before falling back to Response.
type MockClient struct {
	Response  string
	Responses []string
	Err       error

	// Call tracking for assertions
	Calls []domain.CompletionRequest
}

func NewMockClient() *MockClient {
	return &MockClient{Response: "{}"}
}

func (c *MockClient) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	c.Calls = append(c.Calls, req)
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.Responses) > 0 {
		resp := c.Responses[0]
		c.Responses = c.Responses[1:]
		return resp, nil
	}
	return c.Response, nil
}

var _ domain.CompletionClient = (*MockClient)(nil)
