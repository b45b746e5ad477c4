// Package feed republishes task changes to MQTT for external integrations.
//
// Every change event seen on the store's bus is queued and published by a
// worker goroutine to <prefix>/user/<user_id>/task/<type>. The sync server
// never consumes these messages; clients keep receiving changes over their
// own connections. When the queue is full, events are dropped and counted
// rather than slowing down task writes.
package feed
