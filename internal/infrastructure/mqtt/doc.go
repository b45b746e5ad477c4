// Package mqtt publishes the Kronos task activity feed to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees
//   - A retained server status with Last Will and Testament
//
// The feed is outbound only. Sync clients never read it; it exists for
// external integrations (dashboards, automations) that want to follow task
// changes. Fan-out between sync sessions stays in-process.
//
// # Topics
//
//	<prefix>/server/status            retained online/offline
//	<prefix>/user/<user_id>/task/<op> op is create, update or delete
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not local
//   - Task payloads contain user content; restrict subscribers with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().TaskChange(userID, "create")
//	err = client.PublishEvent(topic, payload)
package mqtt
