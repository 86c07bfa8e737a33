// Package link implements command dispatch over a framed transport.
package link

// The Dispatcher correlates acks with requests by sequence number, retries
// requests on per-attempt timeouts, and routes unsolicited frames (pushes) to
// subscribers by category. Synchronous calls are built on top of the async
// path with a one-shot waiter.
//
// Producer of acks and pushes: flight controller firmware
// Consumer: companion computer
