// Package yunmao implements the state synchronisation engine for Yunmao
// lighting and curtain gateways.
//
// The gateway speaks line-delimited JSON over TCP. It accepts commands on
// port 8888 (one request per connection) and pushes state changes to a
// listener on port 21688. This package keeps a local copy of the gateway's
// attribute state and fans changes out to device subscribers.
//
// # Architecture
//
//	                   push (21688)      ┌──────────────┐
//	┌───────────┐ ────────────────────►  │   Listener   │──┐
//	│  Yunmao   │                        └──────────────┘  │ MergeAttributes
//	│  gateway  │   query (8888)         ┌──────────────┐  ▼
//	│           │ ◄────────────────────  │    Poller    │──► StateCache ──► subscribers
//	│           │   cmd (8888)           └──────────────┘  ReplaceSnapshot
//	└───────────┘ ◄────────────────────  Sender
//
// The listener, the poller and command senders share one StateCache. The
// cache is the only shared mutable state; it is guarded by a single mutex
// that is never held across network I/O or subscriber callbacks.
//
// # Switch bitfields
//
// Multi-gang switch modules report every circuit in one packed word (SWI).
// Circuit N (1-based) is bit N-1:
//
//	on, err := yunmao.Decode("0x05", 3) // true
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package yunmao
