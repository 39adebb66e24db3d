// Package overlay implements the relay-based message transport and the
// embedded anonymizing proxy that gates it.
//
// No overlay traffic leaves the device until the proxy reports a fully
// bootstrapped circuit: every send and every outbound connection checks the
// proxy manager's fail-closed gate first. Public events are signed with
// per-geohash derived identities and admitted by proof-of-work; direct
// messages travel as gift-wrapped envelopes that hide both sender and
// content from relays.
package overlay
