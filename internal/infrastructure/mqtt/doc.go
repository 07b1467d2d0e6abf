// Package mqtt connects connectd to an MQTT broker.
//
// It manages:
//   - the broker connection with auto-reconnect and restored subscriptions
//   - a retained status on connect/system/status, with a Last Will that
//     marks the service offline if it vanishes
//   - validated publishing with QoS acknowledgement
//   - panic-safe message handlers
//
// # Topic tree
//
//	connect/
//	├── command/{device_id}   ← commands from automation systems
//	├── ack/{device_id}       → accepted / failed acknowledgements
//	├── state/{device_id}     → retained device snapshots
//	├── event/{device_id}     → device_added, device_state_changed, ...
//	├── health                → retained bridge health
//	└── system/status         → online / offline (LWT)
//
// The bridge package owns the payloads; this package only moves bytes.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handler)
package mqtt
