// Package relay implements the relay's registration and heartbeat state
// machine behind POST /relay/ping.
//
// A ping for an agent already on the roster is a heartbeat and must carry a
// credential: the bearer relay_token handed out at registration, or a
// signature by the registered key over the canonical request, which must
// then include a nonce and a ts. A ping for an
// unknown agent is a registration and must prove key ownership: the agent
// id must derive from the presented key and the request must be signed by
// it. Provider agents with non-derived ids are the exception; they are
// either seeded with a token up front or register through a trusted
// provider.
//
// Every ping runs inside one roster transaction. Replayed nonces and stale
// timestamps are rejected before anything is written.
package relay
