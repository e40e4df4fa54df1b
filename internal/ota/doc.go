// Package ota implements the chunk-transfer protocol engine that pushes a
// firmware image to many devices at once over a publish/subscribe bus.
//
// # Protocol
//
// Each device drives its own transfer by publishing short text feedback:
//
//	device                          uploader
//	  |  ota/feedback/<id> "ready"  ->  |  registers device, resets progress
//	  |  <- ota/<id> [4-byte size]      |
//	  |  ota/feedback/<id> "ok"     ->  |
//	  |  <- ota/<id> [chunk 0]          |
//	  |  ota/feedback/<id> "ok"     ->  |
//	  |  <- ota/<id> [chunk 1]          |
//	  |  ...                            |
//	  |  ota/feedback/<id> "success"->  |  marks device finished
//
// Any other feedback text is an error report from the device. It is logged
// with the device's current chunk index and never changes state.
//
// # Components
//
//   - Step: pure transition function (state, feedback) -> (next state, actions)
//   - Registry: per-device state, created on first "ready", never removed
//   - Engine: applies transitions, publishes through a Publisher
//   - Dispatcher: maps raw (topic, payload) events to Engine calls
//   - Monitor: signals once every known device has finished
//   - Watchdog: optional inactivity timeout with bounded retries
//
// # Usage Example
//
//	table, _ := firmware.Build(img.Data, firmware.DefaultChunkSize)
//	engine := ota.NewEngine(table, client,
//	    ota.WithQoS(1),
//	    ota.WithObserver(func(ev ota.Event) { fmt.Println(ev) }),
//	)
//	dispatcher := ota.NewDispatcher(ota.DefaultFeedbackPrefix, engine)
//	client.OnMessage(dispatcher.Dispatch)
//
//	<-engine.Done()
//
// # Error Policy
//
// Feedback "ok", "success" or an error report from a device that never sent
// "ready" fails fast with an *InvalidStateError (errors.Is ErrUnknownDevice).
// Every error is local to its event: the dispatcher logs it and keeps going.
//
// # Thread Safety
//
// The Engine serializes feedback handling under one lock, so events for a
// single device are applied strictly in arrival order. The Registry may be
// read concurrently (status endpoint, watchdog) while transfers run.
package ota
