// Package config handles loading and validating the Yunmao bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with YUNMAO_* environment variables
//   - Validation of the gateway address, ports and device directory
//   - Default value handling
//
// Security Considerations:
//   - MQTT passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.Address)
package config
