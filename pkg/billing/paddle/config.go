package paddle

import "time"

// Config holds billing provider credentials and endpoints. APIKey and
// WebhookSecret are required; a process without them must not start.
type Config struct {
	APIKey        string        `env:"PADDLE_API_KEY,required"`
	WebhookSecret string        `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	BaseURL       string        `env:"PADDLE_API_URL"`
	PortalURL     string        `env:"PADDLE_PORTAL_URL"`
	HTTPTimeout   time.Duration `env:"PADDLE_HTTP_TIMEOUT" envDefault:"120s"`
}

// apiBaseURL returns the configured base URL or the environment default.
func (c Config) apiBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Environment == "sandbox" {
		return "https://sandbox-api.paddle.com"
	}
	return "https://api.paddle.com"
}
