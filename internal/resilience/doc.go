// Package resilience provides reliability and fault tolerance patterns for the
// delivery engine.
//
// The package supports:
//   - Circuit breakers around each provider sender (Webhook, Slack, Teams, Datadog, HEC)
//   - Exponential backoff and jitter for message retries
//   - Bounded in-process retries for broker connections and dead-letter writes
//
// Usage Example:
//
//	breakers := circuitbreaker.NewSet(circuitbreaker.IntegrationConfig("slack"))
//	resp, err := circuitbreaker.Do(breakers.Get(host), func() (*http.Response, error) {
//	    return client.Do(req)
//	})
//
//	err := retry.WithBackoff(ctx, retry.BrokerConnectConfig().Named("redis connect"), func() error {
//	    return client.Ping(ctx).Err()
//	})
package resilience
