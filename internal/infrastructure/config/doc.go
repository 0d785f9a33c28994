// Package config handles loading and validating Keystone Auth configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with KEYSTONE_* environment variables
//   - Validation of required fields and secret strength
//   - Default value handling
//
// Security Considerations:
//   - JWT secrets should be set via environment variables, never committed
//   - Absent secrets are tolerated at load time; the service then refuses
//     every token operation with a misconfiguration error
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Security.JWT.AccessTokenTTL.Std())
package config
