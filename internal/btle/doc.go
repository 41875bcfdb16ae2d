// Package btle is the session engine that serializes GATT operations
// against a radio that can only process one at a time.
//
// Work is expressed as a Transaction: a named, ordered list of Actions built
// with a Builder. The Dispatcher runs transactions on a single worker, one
// action at a time, blocking after each action that expects a result until
// the Router reports the matching completion. The ConnectionManager owns the
// physical connection; an unsolicited disconnect aborts the in-flight
// transaction, drops the queue and either resumes or resets the link.
//
// Typical use:
//
//	engine := btle.NewEngine(radio, band, btle.Options{AutoReconnect: true}, logger)
//	_ = engine.Start(ctx)
//	_ = engine.Connect(ctx)
//
//	b := btle.NewBuilder("enable heart rate", logger)
//	b.Notify(engine.Registry().Get(measurement), true).
//		Write(engine.Registry().Get(controlPoint), []byte{0x15, 0x01, 0x01})
//	err := b.Queue(engine)
package btle
