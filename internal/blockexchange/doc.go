/*
Package blockexchange implements the download driver consumed by the sync
engine. It tracks peers and their advertised height ranges, schedules block
requests against a pluggable transport, assembles responses into contiguous
batches and delivers them on the engine's result queue.

The exchange runs two goroutines: a scheduler that assigns requests and
evicts unresponsive peers, and an inbox worker that applies bad-header
updates and forwards outbound announcements to the transport. All peer and
request state is guarded by a single mutex; no lock is held across a
transport or queue call that can block.
*/
package blockexchange
