package blob

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/any-hub/imgcache/internal/cache"
)

const (
	SettingEndpoint  = "endpoint"
	SettingBucket    = "bucket"
	SettingAccessKey = "access_key"
	SettingSecretKey = "secret_key"
	SettingUseSSL    = "use_ssl"
	SettingRegion    = "region"
	SettingPrefix    = "prefix"
	SettingPublicURL = "public_url"
)

// settingKeys 是 blob 后端识别的全部设置键。
var settingKeys = []string{
	SettingEndpoint, SettingBucket, SettingAccessKey, SettingSecretKey,
	SettingUseSSL, SettingRegion, SettingPrefix, SettingPublicURL,
}

// Config holds the S3/MinIO connection settings.
type Config struct {
	// Endpoint is the server address, e.g. "localhost:9000".
	Endpoint string
	// Bucket is required in all cases.
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	// Prefix namespaces every object key.
	Prefix string
	// PublicURL, when set, makes Location return "<PublicURL>/<object key>"
	// so the pipeline can redirect clients to a CDN.
	PublicURL string

	// Client is an optional pre-configured client; connection fields are
	// ignored when it is set.
	Client *minio.Client
}

// ConfigFromSettings 将冻结后的设置映射为 Config。
func ConfigFromSettings(settings cache.Settings) (Config, error) {
	cfg := Config{
		Endpoint:  settings.Get(SettingEndpoint),
		Bucket:    settings.Get(SettingBucket),
		AccessKey: settings.Get(SettingAccessKey),
		SecretKey: settings.Get(SettingSecretKey),
		Region:    settings.Get(SettingRegion),
		Prefix:    settings.Get(SettingPrefix),
		PublicURL: settings.Get(SettingPublicURL),
		UseSSL:    true,
	}
	if raw := settings.Get(SettingUseSSL); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("use_ssl: %w", err)
		}
		cfg.UseSSL = parsed
	}
	return cfg, nil
}

// validate checks that either Client or the full connection tuple is present.
func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must be host[:port], got %q", c.Endpoint)
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}
