// Package sic provides the device-side runtime of the Social Interaction
// Cloud: a component manager that lives on each device (robot, desktop,
// server), listens on the message bus for requests, and starts the
// components providing that device's capabilities.
//
// # Model
//
// Every device runs one manager daemon (sicd). Users anywhere on the bus ask
// a manager to start a component by name; the manager launches it as a
// concurrent unit, waits for it to report readiness, and replies with the
// output channel the component publishes to. Components it does not know
// are ignored rather than rejected: several devices listen for the same requests and
// exactly the ones hosting the class answer.
//
//	┌────────────┐  start/stop requests  ┌──────────────────┐
//	│   User     │ ────────────────────→ │  Manager (sicd)  │
//	│ (any host) │ ←──────────────────── │   per device     │
//	└────────────┘   routing info or     └──────────────────┘
//	                 typed failure             │ launches
//	                                     ┌──────────────────┐
//	                                     │    Components    │
//	                                     │ (echo, sensors…) │
//	                                     └──────────────────┘
//
// # Packages
//
//   - message: typed request/reply envelopes on the bus
//   - component: component classes, registry, runtime instances
//   - manager: the request loop, start path, and singleton variant
//   - busclient: NATS transport with circuit breaker and KV helpers
//   - deviceaddr: device network identity and subject sanitization
//   - components/echo: built-in demonstration component
//   - config, metric, health, errors: daemon configuration, Prometheus
//     metrics, liveness reporting, classified errors
//
// The cmd/sicd binary wires these together into the daemon.
package sic
