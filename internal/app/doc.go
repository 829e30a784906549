// Package app composes the raffle daemon.
//
// It turns a config.Config into a running Application:
//
//	config ──► ledger (memory | postgres) ──► raffle.Engine ◄── vrf.Coordinator
//	              │                                │                   ▲
//	              └── snapshot store               ├── events fanout   │
//	                                               │   (ring, redis)   │
//	                                               └── automation.Keeper
//
// and registers the long-running parts (VRF fulfiller, keeper, HTTP server,
// notification publisher) with a system.Manager that starts them in order
// and stops them in reverse. Business rules live in services/raffle; this
// package only wires.
package app
