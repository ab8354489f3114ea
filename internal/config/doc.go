// Package config provides configuration management for switchboard.
//
// Configuration is read from config.yaml in a single directory. The default
// directory is ~/.config/switchboard; commands accept --config-path to use
// another one. Values missing from the file keep the defaults returned by
// GetDefaultConfig, and a handful of environment variables override the file:
//
//	SWITCHBOARD_REDIS_ADDR       broker.redis.addr
//	SWITCHBOARD_REDIS_PASSWORD   broker.redis.password
//	SWITCHBOARD_REDIS_DB         broker.redis.db
//	SWITCHBOARD_BROKER           broker.type
//	SWITCHBOARD_OLLAMA_HOST      reasoning.ollamaHost
//	SWITCHBOARD_LOG_LEVEL        logging.level
//	SWITCHBOARD_METRICS_LISTEN   metrics.listen (and enables metrics)
//	SWITCHBOARD_WEBHOOK_URL      notifications.webhook.url
//
// # Configuration Structure
//
//	logging:
//	  level: info                  # debug, info, warn, error
//	  format: text                 # text or json
//	broker:
//	  type: redis                  # redis or memory
//	  redis:
//	    addr: localhost:6379
//	  maxRetries: 3
//	  retryDelay: 1s
//	orchestrator:
//	  stopTimeout: 10s
//	  healthInterval: 30s
//	tools:
//	  timeout: 30s
//	  maxConcurrent: 8
//	  serversFile: servers.yaml    # watched for changes, relative to the config dir
//	  servers:
//	    - name: files
//	      command: mcp-server-filesystem
//	      args: ["/tmp"]
//	reasoning:
//	  ollamaHost: http://localhost:11434
//	  model: llama3.1
//	  maxIterations: 5
//	  maxHistory: 20
//	metrics:
//	  enabled: false
//	  listen: :9464
//	notifications:
//	  enabled: true
//	  defaultChannel: console      # console or webhook
//	  webhook:
//	    url: https://hooks.example.com/switchboard
//	    timeout: 5s
//	    retries: 2
//
// Validation problems are reported together as a ConfigurationErrorCollection.
package config
