// Package config handles loading and validating secbot configuration.
//
// Every service binary (latch, authorizer, broadcast, rfidreader,
// secbotctl, secbot) reads the same file, so a site keeps one config
// and each process picks the sections it needs.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SECBOT_* environment variables
//   - Development and production defaults (SECBOT_ENV=prod)
//   - Validation of required fields
//
// Security Considerations:
//   - MQTT and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bus.SocketRoot)
package config
