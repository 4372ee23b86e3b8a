package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "station":
		return stationTemplate, nil
	case "driver":
		return driverTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const stationTemplate = `host = "0.0.0.0"
port = 8750
heartbeat_timeout = "250ms"
status_interval = "100ms"
log_status_every = "5s"
require_hello = true
secret = ""
backend = "log" # log | fms | script

[fms]
team_id = 5987
alliance_station = "R1"
ds_address = "127.0.0.1"

[script]
# enable = ["/usr/local/bin/robot-arm"]
# disable = ["/usr/local/bin/robot-disarm"]
# estop = ["/usr/local/bin/robot-estop"]
# set_mode = ["/usr/local/bin/robot-mode"] # mode name appended
timeout = "5s"

[monitor]
addr = "" # e.g. "127.0.0.1:8751" to enable
cors_origins = ["http://localhost:3000"]

[detect]
state_file = "" # e.g. "/var/run/dsctl/ds_state"

[log]
level = "info"
file = "" # e.g. "logs/stationctl.log"
max_size_mb = 20
max_backups = 5
max_age_days = 14
`

const driverTemplate = `server_host = "127.0.0.1"
server_port = 8750
client_id = "driver"
secret = ""
heartbeat_interval = "100ms"
hello_retry_interval = "1s"
handshake_timeout = "1s"
`
