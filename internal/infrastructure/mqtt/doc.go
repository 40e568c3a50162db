// Package mqtt manages the broker session of the fish feeder client.
//
// A Session owns the paho client. It connects, reports every lifecycle
// transition through SessionDeps.OnStateChange, and calls
// SessionDeps.OnConnected each time the link comes up so the caller can
// subscribe again (sessions are clean, so the broker keeps nothing).
//
//	Disconnected ──Start──▶ Connecting ──▶ Connected
//	                             │              │ link lost
//	                     attempt failed         ▼
//	                             └────────▶ Reconnecting ──▶ Connected
//
//	any state ──Stop / broker refusal──▶ Disconnected
//
// # Reconnection
//
// Paho's auto-reconnect is off. After a drop or a failed attempt the session
// waits exactly mqtt.reconnect_interval_ms and tries again, forever, with a
// new client ID each time. Only refusals that cannot change on retry (bad
// protocol version, bad credentials, not authorised) end the session.
//
// # Delivery
//
// The feeder uses QoS 0 throughout: at most once, no acknowledgement.
//
// # Usage
//
//	sess, err := mqtt.Start(ctx, cfg.MQTT, mqtt.SessionDeps{
//	    Logger:        log,
//	    OnStateChange: func(s mqtt.State) { log.Info("mqtt", "state", s.String()) },
//	    OnConnected: func(s *mqtt.Session) error {
//	        return s.Subscribe("feed/status", 0, handle)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer sess.Stop()
//
//	err = sess.Publish(ctx, "feed/manual", []byte(`{"command":"ON"}`), 0, false)
package mqtt
