// Package relay is the HTTP face of the relay state machine.
//
// Handler serves the relay API:
//
//	POST /relay/ping     registration and heartbeat, see services/relay
//	GET  /relay/agents   roster listing, tokens withheld
//	GET  /healthz        liveness
//	GET  /metrics        Prometheus exposition
//
// Client is the agent side of POST /relay/ping. It signs each attempt with
// a fresh nonce and timestamp and retries transport failures and 5xx
// responses with jittered exponential backoff. Rejections (4xx other than
// 429) are returned at once as *StatusError.
package relay
