// Package main runs the beacon relay: the registration and heartbeat
// endpoint agents ping to announce liveness.
//
// HTTP API
//
//	POST /relay/ping
//	    Register a new agent or record a heartbeat. New agents present
//	    pubkey_hex and an Ed25519 signature and receive a relay_token.
//	    Known agents authenticate with "Authorization: Bearer <relay_token>"
//	    or a signature by the registered key over the whole request; signed
//	    heartbeats must include a nonce and a ts. Every ping may carry a nonce
//	    (rejected with 409 if reused) and a unix ts (rejected with 400 when
//	    outside the freshness window).
//
//	GET /relay/agents
//	    List the roster. Tokens are never included.
//
//	GET /healthz
//	    Liveness.
//
//	GET /metrics
//	    Prometheus metrics.
//
// Behaviour
//
//   - State lives in a SQLite database (see the database setting) and
//     survives restarts, including reserved nonces.
//   - Configuration comes from an optional YAML file (--config); flags
//     override the file.
//   - Requests are rate limited per client address; excess gets 429.
//   - SIGINT or SIGTERM drains in-flight requests and exits.
//
// Example configuration
//
//	listen: 127.0.0.1:8080
//	database: /var/lib/beacon/relay.db
//	token_ttl: 168h
//	trusted_providers: [swarmhub]
//	rate_limit: {requests: 30, window: 1m}
//	log: {level: info, format: json}
//	seeds:
//	  - agent_id: swarm-worker-7
//	    provider: swarmhub
package main
