// Package fetcher retrieves repository traffic payloads from the GitHub REST API.
//
// # Overview
//
// Client.Fetch issues one GET against
//
//	{api}/repos/{owner}/{repo}/traffic/{views|clones|popular/referrers|popular/paths}
//
// through go-github, authenticated with a static bearer token, and converts the response
// into the typed payloads of pkg/traffic.
//
// # Failure handling
//
//   - 404: returns (nil, nil), "no data", never retried
//   - 403/429 with an exhausted rate limit: sleeps until the reported reset and retries
//     without consuming an attempt
//   - other non-2xx (including 202 "statistics are being computed"): exponential backoff,
//     then *StatusError wrapped in *retry.ExhaustedError
//   - network failures: retried, then an error wrapping ErrTransport
//   - negative counts or undecodable bodies: ErrMalformedPayload, not retried
//
// # Caching
//
// Results (including "no data") are cached per (owner, repository, metric) for the
// lifetime of the Client, so repeated requests within one run hit the network once.
//
// # Usage Example
//
//	client, err := fetcher.New(fetcher.Config{
//		Owner: "ccp-nc",
//		Token: os.Getenv("GITHUB_TOKEN"),
//		Retry: retry.Policy{MaxAttempts: 4, InitialDelay: time.Second},
//	}, fetcher.WithLogger(logger), fetcher.WithMetrics(metrics))
//
//	payload, err := client.Fetch(ctx, "soprano", traffic.MetricViews)
package fetcher
