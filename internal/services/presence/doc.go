// Package presence keeps an agent registered with a relay.
//
// Beat sends one ping. It reuses the stored relay token while it is live,
// and falls back to a signed re-registration when the relay refuses the
// token. Tokens handed out by the relay are stored per relay URL.
package presence
