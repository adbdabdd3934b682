// Package dpubsub fans a sequence of values out to any number of readers.
//
// A [Stream] node is published exactly once and links to the next node,
// so every reader walks the same sequence at its own pace.
// The dnotif InboundSubstream.Relay method publishes incoming notifications this way,
// and [RunChannelToStream] publishes whatever several producers
// send on a shared channel, in the order the channel delivers it.
package dpubsub
