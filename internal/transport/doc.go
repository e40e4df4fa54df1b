// Package transport connects bulkota to an MQTT broker.
//
// The client uses Eclipse Paho v2's autopaho package for connection
// management with automatic reconnection. On every (re)connect it subscribes
// to the feedback wildcard filter, so a broker restart does not lose the
// transfer: the registry lives in the engine, not in the session.
//
// # Publishing
//
// Publish never waits for the broker. Messages go into a bounded queue that
// a single goroutine drains in order, which keeps chunk i+1 behind chunk i
// for every device. When the queue is full Publish fails with ErrQueueFull
// and the caller's state stays where it was.
//
// # Receiving
//
// Inbound messages are passed to the MessageHandler one at a time, in the
// order the broker delivered them.
//
// # Usage Example
//
//	client, err := transport.New(transport.Config{
//	    BrokerURL:    "mqtt://192.168.137.101:1883",
//	    ClientID:     "ota-uploader",
//	    QoS:          1,
//	    Subscription: "ota/feedback/#",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client.OnMessage(dispatcher.Dispatch)
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(context.Background())
package transport
