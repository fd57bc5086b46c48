package claude

// Export for testing
type APIClient = apiClient

// NewWithAPIClient creates a client with a custom API client for testing
func NewWithAPIClient(client apiClient, options ...Option) *Client {
	c := newClient(DefaultModel, options...)
	c.apiClient = client
	return c
}
