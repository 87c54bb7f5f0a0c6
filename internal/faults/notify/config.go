package notify

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines alert delivery configuration. Loaded from a YAML file when
// ALERT_CONFIG is set, with env fallbacks for the common knobs.
type Config struct {
	WebhookURL  string        `yaml:"webhook_url"`
	Template    string        `yaml:"template"`
	Cooldown    time.Duration `yaml:"cooldown"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// LoadConfig loads alert config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		WebhookURL:  os.Getenv("ALERT_WEBHOOK_URL"),
		SendTimeout: getenvDuration("ALERT_SEND_TIMEOUT", 10*time.Second),
		Cooldown:    getenvDuration("ALERT_COOLDOWN", 0),
	}

	if path := os.Getenv("ALERT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("ALERT_WEBHOOK_URL")
	}
	return cfg, nil
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
