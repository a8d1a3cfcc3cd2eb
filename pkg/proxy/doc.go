// Package proxy selects the egress endpoint for metadata API traffic.
//
// A Rotator runs in one of three modes: direct (no proxy), a single fixed
// endpoint, or a pool loaded from a file. Pools rotate preventively after
// a fixed number of requests and immediately when the server signals
// throttling; rotation is circular, so a pool of size K returns to its
// starting endpoint after K rotations. ProxyFunc plugs the rotator into an
// http.Transport, resolving the active endpoint per request.
package proxy
