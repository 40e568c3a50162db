// Package config handles loading and validating fish feeder configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with FISHFEEDER_* environment variables
//   - Validation of required fields (all problems reported at once)
//   - Default values matching the original mobile client
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.URL)
package config
