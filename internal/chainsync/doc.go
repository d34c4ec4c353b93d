/*
Package chainsync implements the forward chain-synchronization engine for a
proof-of-work node: it continuously pulls downloaded block batches from a
block exchange, tracks fork choice by total difficulty, persists blocks
through an execution client, submits the resulting head for full chain
validation and unwinds to the latest valid ancestor when a chain is
rejected.

The engine owns a single goroutine that runs the execution loop until its
context is canceled. All execution-client calls are blocking rendezvous
points: the engine never has more than one outstanding backend call. The
only cross-goroutine boundary is the exchange's result queue, consumed with
a bounded poll so the engine stays responsive to cancellation.
*/
package chainsync
