package fastclient

// buildInterceptorStack assembles the fixed pipeline order: user-
// application interceptors, retry/follow-up, header bridge,
// cache, connect (allocates the Exchange), network interceptors (the
// connect interceptor itself skips them for WebSocket calls), terminal
// CallServerStage.
func buildInterceptorStack(c *Client) []Interceptor {
	stack := make([]Interceptor, 0, 8+len(c.userInterceptors)+len(c.networkInterceptors))
	stack = append(stack, c.userInterceptors...)
	stack = append(stack, &retryInterceptor{client: c})
	stack = append(stack, &bridgeInterceptor{client: c})
	stack = append(stack, &cacheInterceptor{client: c})
	stack = append(stack, &connectInterceptor{client: c, networkInterceptors: c.networkInterceptors})
	return stack
}
