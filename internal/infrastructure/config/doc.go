// Package config handles loading and validating the Modbus middleware configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MODBUSMW_*)
//   - Validation of required fields
//   - Default value handling
//
// A validation failure wraps ErrConfiguration and must prevent startup.
//
// Security Considerations:
//   - MQTT credentials and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Modbus.Host)
package config
