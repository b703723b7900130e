// Package config provides configuration management for the event bus.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("admin API will listen on %s\n", cfg.GetHTTPAddr())
package config
