// Package events provides the queue-change notification fanout.
//
// The engine emits a QueueChangedEvent after every reconciliation pass;
// consumers (the runner's scheduler, UI bridges, metrics) register handlers
// on the Emitter without the engine knowing who listens. Events carry no
// record data: the engine's query API is the source of truth.
package events
