package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"topup-gateway"`
		Port int    `envconfig:"PORT" default:"3002"`
	}

	Upstream struct {
		BaseURL      string        `envconfig:"UPSTREAM_BASE_URL" default:"https://gateway.okeconnect.com"`
		MerchantID   string        `envconfig:"UPSTREAM_MERCHANT_ID" required:"true"`
		APIKey       string        `envconfig:"UPSTREAM_API_KEY" required:"true"`
		FetchTimeout time.Duration `envconfig:"UPSTREAM_FETCH_TIMEOUT" default:"5s"`
		Retries      int           `envconfig:"UPSTREAM_RETRIES" default:"3"`
		Backoff      time.Duration `envconfig:"UPSTREAM_BACKOFF" default:"1s"`
		CacheTTL     time.Duration `envconfig:"UPSTREAM_CACHE_TTL" default:"30s"`
		Window       int           `envconfig:"UPSTREAM_WINDOW" default:"10"`
	}

	QRIS struct {
		// Payload is the merchant's static QRIS string; the encoder rewrites
		// it into a dynamic payload carrying the disambiguated amount.
		Payload     string `envconfig:"QRIS_PAYLOAD" required:"true"`
		ArtifactDir string `envconfig:"QRIS_ARTIFACT_DIR" default:"/tmp/qris"`
	}

	Topup struct {
		Expiry            time.Duration `envconfig:"TOPUP_EXPIRY" default:"10m"`
		MaxActivePerOwner int           `envconfig:"TOPUP_MAX_ACTIVE_PER_OWNER" default:"1"`
		MaxActiveOwners   int           `envconfig:"TOPUP_MAX_ACTIVE_OWNERS" default:"5"`
		RequestSpacing    time.Duration `envconfig:"TOPUP_REQUEST_SPACING" default:"10s"`
		SuffixMin         int64         `envconfig:"TOPUP_SUFFIX_MIN" default:"1"`
		SuffixMax         int64         `envconfig:"TOPUP_SUFFIX_MAX" default:"500"`
		SuffixAttempts    int           `envconfig:"TOPUP_SUFFIX_ATTEMPTS" default:"999"`
		DedupCap          int           `envconfig:"TOPUP_DEDUP_CAP" default:"1000"`
		SweepInterval     time.Duration `envconfig:"TOPUP_SWEEP_INTERVAL" default:"2m"`
		ExpireSoonWithin  time.Duration `envconfig:"TOPUP_EXPIRE_SOON_WITHIN" default:"10m"`
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
