// Package config loads and watches the monitor configuration file (config.yaml).
//
// Parse applies defaults (json source, 10m poll interval, 3 attempts with a
// 2s base delay, 1000 samples, 30s dedup spacing, port 8080) before
// validating required fields, enums and ranges. Secrets are never stored in
// YAML: AuthConfig, InsightConfig and WebhookConfig resolve them from the
// environment variables they name.
//
// Watch uses fsnotify and re-adds the watch after each reload so editors that
// save through rename keep triggering events.
package config
