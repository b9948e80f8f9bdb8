package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "node", "field":
		return nodeTemplate, nil
	case "ground":
		return groundTemplate, nil
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

const nodeTemplate = `id = "field.local"
# "tag" writes literal class prefixes, "discriminant" a single class byte.
frame_mode = "tag"
data_terminators = "#"
command_terminators = "~\n"
queue_capacity = 10
poll_interval = "20ms"

[radio]
listen = "127.0.0.1:7001"
peer = "127.0.0.1:7002"

[link]
max_retries = 3
timeout = "2s"
base_delay = "100ms"
settle_delay = "50ms"
poll_interval = "20ms"
max_packet_bytes = 260

[bus]
listen = "127.0.0.1:7101"
controller = "127.0.0.1:7102"
write_timeout = "1s"

[transfer]
packet_size = 256
max_consecutive_failures = 3
max_resource_bytes = 4194304
max_attempts = 3
requeue_delay = "5s"
requeue_max_delay = "2m"
requeue_multiplier = 2.0

[resources]
dir = "captures"
extensions = [".jpg", ".jpeg"]
scan_interval = "30s"

[ground]
path = "ground.txt"
interval = "10s"

[status]
addr = ":9100"
cors_origins = ["http://localhost:3000"]
# Bearer token required by POST routes; empty leaves them open.
token = ""
`

const groundTemplate = `id = "ground.local"
frame_mode = "tag"
data_terminators = "#"
command_terminators = "~\n"
strict_records = false
recent_records = 128

[radio]
listen = "127.0.0.1:7002"
peer = "127.0.0.1:7001"

[link]
max_retries = 3
timeout = "2s"
base_delay = "100ms"
settle_delay = "50ms"
poll_interval = "20ms"
max_packet_bytes = 260

[assembly]
packet_size = 256
# Must stay below 16 MiB.
max_resource_bytes = 4194304
timeout = "30s"
expire_interval = "1s"

[relay]
base_url = "http://localhost:8080"
command_path = "/api/command"
timeout = "10s"
retries = 2
spool_path = "spool/relay.spool"
poll_interval = "5s"

[relay.endpoints]
telemetry = "/api/telemetry"
ground = "/api/ground"
image = "/api/image"

[commands]
"send image" = "SI"
"send telemetry" = "ST"
"read ground" = "RG"
"status" = "ES"
"reboot" = "RB"

[archive]
# "dir" or "s3"
kind = "dir"
dir = "received"
bucket = ""
prefix = "agrilink"
region = ""
endpoint = ""
use_path_style = false

[status]
addr = ":9200"
cors_origins = ["http://localhost:3000"]
# Bearer token required by POST routes; empty leaves them open.
token = ""
`
