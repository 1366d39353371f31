// Package config handles configuration loading for familiar.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FAMILIAR_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/familiar/config.yaml
//  3. ~/.config/familiar/config.yaml
//
// Files ending in .toml are parsed as TOML; anything else is YAML.
//
// # Environment Variables
//
// Values can reference environment variables, expanded before parsing:
//
//	matrix:
//	  access_token: "${MATRIX_TOKEN}"
//
// After parsing, FAMILIAR_<SECTION>_<KEY> variables override single fields,
// e.g. FAMILIAR_MATRIX_ACCESS_TOKEN or FAMILIAR_BOT_ALLOWED_ROOMS (comma
// separated). FAMILIAR_BOT_STATUSES is separated by "|" since statuses may
// contain commas.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax:
//
//	bot:
//	  activity_interval: "1h"
//	  cache_ttl: "10m"
//
// # Sections
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@familiar:example.org"
//	  access_token: "..."
//	  device_id: "FAMILIAR"
//	  encryption: true
//	  recovery_key: "..."
//	  owner: "@you:example.org"
//	  report_room: "!errors:example.org"
//	  auto_join: true
//	  data_dir: "/var/lib/familiar"
//
//	bot:
//	  command_prefix: "!"
//	  allowed_rooms: ["!general:example.org"]
//	  statuses: ["watching you"]
//	  duplicate_settings: "reject"
//
//	database:
//	  path: "familiar.db"
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text or json
//
//	links:
//	  course_prefix: "https://www.handbook.unsw.edu.au/undergraduate/courses/2020/"
package config
