// Package dnotif implements notification substreams:
// unidirectional, long-lived channels of discrete messages
// from one peer to another,
// each opened with a single bounded handshake exchange.
//
// The protocol on one bidirectional stream is:
//
//   - The initiator writes a varint-prefixed handshake (possibly empty).
//   - If the acceptor accepts the substream,
//     it writes back a varint-prefixed handshake of its own, whenever it is ready.
//     To refuse, the acceptor closes the substream without writing anything.
//   - The initiator then writes zero or more varint-prefixed notifications.
//     The acceptor never writes anything after its handshake.
//   - Either side may close its writing direction to end the substream,
//     and the other side is expected to close its own writing direction in response.
//
// Handshakes are limited to [MaxHandshakeSize] bytes.
// Notifications are limited by a per-protocol maximum
// configured on [InboundConfig] and [OutboundConfig].
//
// Streams are opened and protocol names are selected outside this package
// (see the dselect package for a minimal selector).
// Once a name is selected, the initiator runs [*OutboundUpgrade.Upgrade]
// and the acceptor runs [*InboundUpgrade.Upgrade].
// They yield an [*OutboundSubstream] and an [*InboundSubstream] respectively,
// which are then driven by their owner.
package dnotif
