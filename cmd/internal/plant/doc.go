// Package plant is the shop-floor data surface: sensor readings and work
// orders, their storage, and the HTTP handlers that push changes to
// websocket subscribers.
package plant
