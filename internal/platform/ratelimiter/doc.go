// Package ratelimiter admits at most a configured number of requests per
// window for each key, typically a client IP. Each key is a token bucket
// that refills one request every Window/Requests, with room for a whole
// window's worth at once. Denials report how long the caller should wait.
// Idle keys are forgotten, and the number of tracked keys is capped.
package ratelimiter
