// Package client talks to the metadata API and the asset hosts.
//
// Session owns the two HTTP clients: an API client that carries session
// headers and routes through the proxy rotator, and a deliberately bare
// asset client so asset hosts never see API credentials. Caller wraps
// individual API calls with the retry protocol: rate-limiter admission,
// throttle handling with proxy rotation and Retry-After waits, and
// exponential backoff for transient failures.
package client
