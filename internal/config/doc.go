// Package config manages application configuration for the Trellis server.
//
// Configuration comes from environment variables, optionally seeded from a
// .env file, plus an optional YAML file naming the middleware stack.
//
// # Configuration Loading
//
//	cfg, err := config.Load()
//	if err := cfg.Validate(); err != nil { ... }
//
// # Environment Variables
//
// Key environment variables:
//
//	SERVER_PORT          - HTTP server port (default: 8080)
//	SERVER_ENV           - development, production or test
//	SERVER_DEBUG         - render stack traces for unhandled panics
//	SERVER_H2C           - serve cleartext HTTP/2
//	SERVER_MOUNT_PREFIX  - prefix of the API sub-application (default: /api)
//	CORS_ALLOWED_ORIGINS - comma separated origins
//	RATE_LIMIT_RPS       - requests per second per client
//	AUTH_BASIC_USERS     - name:bcrypt-hash pairs, comma separated
//	AUTH_JWT_PUBLIC_KEY  - RSA public key (PEM) enabling bearer tokens
//	AUTH_JWT_ISSUER      - expected token issuer (default: trellis)
//	TRELLIS_CONFIG       - path of the YAML configuration file
//
// # Middleware File
//
//	middleware:
//	  - name: cors
//	    options:
//	      allowed_origins: ["https://example.com"]
//	  - name: gzip
//	    options: {minimum_size: 1000}
package config
