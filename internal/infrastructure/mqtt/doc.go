// Package mqtt connects robocore to its MQTT broker.
//
// The broker links the core to the motor-controller bridge processes and to
// dashboards and tuning tools:
//
//	robocore ↔ broker ↔ motor bridges (CAN, serial, ...)
//	                  ↔ dashboards, tuning tools
//
// Motor commands and telemetry go out at QoS 0 and Publish returns without
// waiting on the broker; a lost command is superseded by the next tick's.
// The robot's retained status on robocore/system/status reads online while
// connected, offline/shutdown after Close, and offline/connection_lost
// (the will) if the robot vanishes.
//
// The session is clean, so the Client remembers its subscriptions and
// restores them on every reconnect.
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Robot.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetLogger(log)
//
//	err = client.Subscribe(mqtt.Topics{}.MotorState("can0", "elevator-left"), 0,
//	    func(topic string, payload []byte) error {
//	        return cache.Store(payload)
//	    })
package mqtt
