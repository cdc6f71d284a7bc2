// Package config loads the offloadd configuration with viper and validates it
// with struct tags.
//
// Keys are grouped in two sections:
//
//	scheduler:
//	  pool_size: 0              # 0 picks min(NumCPU, max_pool_size)
//	  max_pool_size: 4
//	  default_timeout: 30s
//	  cleanup_interval: 1m
//	  result_high_water: 1000
//	  result_low_water: 500
//	  queue_warn_threshold: 50
//	  success_rate_warn_threshold: 0.8
//	server:
//	  listen_addr: ":8080"
//	  log_level: info
//	  shutdown_timeout: 15s
//	  allowed_origins: ["*"]
//
// Every key can be overridden from the environment with the OFFLOAD_ prefix
// and dots replaced by underscores.
package config
