package config

import (
	"fmt"
	"os"
)

func Template() string {
	return defaultTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0o600)
}

const defaultTemplate = `[log]
level = "info"
timestamp = true
no_color = false

[memory]
# 0 disables the allocation budget
limit_bytes = 0

[frame]
max_payload_bytes = 67108864
max_auth_bytes = 4096

[metrics]
enabled = false
# host:port serving /metrics, /health and /ready; empty disables it
listen = ""

[session]
connect_timeout_ms = 5000
write_timeout_ms = 15000
dial_attempts = 5
backoff_initial_ms = 250
backoff_max_ms = 5000
backoff_multiplier = 2.0
backoff_jitter = true
# frames carry and require this token when set
auth_token = ""
`
