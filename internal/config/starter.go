package config

import (
	"os"

	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
)

const starterConfig = `# devloop configuration
store:
  checkpoint_path: ./devloop-data/checkpoints.db

listeners:
  nats:
    url: nats://127.0.0.1:4222
    subject: devloop.mutations
  watch:
    roots:
      - ./src
    ignore:
      - "**/node_modules/**"
      - "**/.cache/**"
    coalesce: 100ms

webhook:
  addr: :8671
  path: /__refresh

debounce:
  quiet_window: 250ms
  max_delay: 5s

metrics:
  enabled: true
  addr: :9671

scheduler:
  checkpoint_interval: 5m
  extract_every: 0s
`

// WriteStarter writes a commented starter configuration file.
func WriteStarter(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return ferrors.ConfigError("configuration file already exists").
				WithContext("path", path).Build()
		}
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to write starter config").Build()
	}
	return nil
}
