package ai

import "context"

// StubClient заглушка, которая не делает реальных запросов
type StubClient struct {
	response string
}

func NewStubClient(response string) *StubClient {
	if response == "" {
		response = "запрос получен"
	}
	return &StubClient{response: response}
}

func (c *StubClient) SendRequest(_ context.Context, _, _ string) (string, error) {
	return c.response, nil
}
