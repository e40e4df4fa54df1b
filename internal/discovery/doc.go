// Package discovery finds MQTT brokers and OTA-capable devices on the local
// network using mDNS (Multicast DNS) service discovery.
//
// Brokers advertise as "_mqtt._tcp" services (Mosquitto with the Avahi
// service file, EMQX, HiveMQ Edge). Arduino/ESP devices running ArduinoOTA
// advertise as "_arduino._tcp"; listing them is informational only, since
// the transfer itself is driven by the devices' MQTT feedback.
//
// # Usage Example
//
//	broker, err := discovery.FindBroker(ctx, 5*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Using broker", broker.BrokerURL())
//
//	scanner := discovery.NewScanner(discovery.DeviceServiceType)
//	devices, err := scanner.Scan(ctx)
//	for _, d := range devices {
//	    fmt.Println(d)
//	}
//
// # Network Requirements
//
//   - The broker must advertise itself via mDNS
//   - Both the host and the broker must be on the same network segment
//   - Multicast traffic (UDP port 5353) must not be blocked
package discovery
