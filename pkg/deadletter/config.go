package deadletter

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Supported sink types.
	TypeSQS  = "sqs"
	TypeSNS  = "sns"
	TypeHTTP = "http"

	httpDefaultMethod         = "POST"
	httpDefaultTimeoutSeconds = 5
)

// Config describes a single dead-letter sink.
type Config struct {
	ID   string
	Type string
	SQS  *SQSConfig
	SNS  *SNSConfig
	HTTP *HTTPConfig
}

// SQSConfig holds AWS SQS specific settings.
type SQSConfig struct {
	QueueURL string
	Region   string
}

// SNSConfig holds AWS SNS specific settings.
type SNSConfig struct {
	TopicARN string
	Region   string
}

// HTTPConfig holds webhook settings.
type HTTPConfig struct {
	URL            string
	Method         string
	Headers        map[string]string
	TimeoutSeconds int
}

// Normalize trims fields and fills defaults, then validates the result.
func Normalize(cfg Config) (Config, error) {
	cfg = sanitizeConfig(cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// sanitizeConfig trims and normalizes the sink config fields.
func sanitizeConfig(cfg Config) Config {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if cfg.ID == "" {
		cfg.ID = cfg.Type
	}

	if cfg.SQS != nil {
		c := *cfg.SQS
		c.QueueURL = strings.TrimSpace(c.QueueURL)
		c.Region = strings.TrimSpace(c.Region)
		cfg.SQS = &c
	}
	if cfg.SNS != nil {
		c := *cfg.SNS
		c.TopicARN = strings.TrimSpace(c.TopicARN)
		c.Region = strings.TrimSpace(c.Region)
		cfg.SNS = &c
	}
	if cfg.HTTP != nil {
		c := *cfg.HTTP
		c.URL = strings.TrimSpace(c.URL)
		c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
		if c.Method == "" {
			c.Method = httpDefaultMethod
		}
		c.Headers = sanitizeHeaders(c.Headers)
		if c.TimeoutSeconds <= 0 {
			c.TimeoutSeconds = httpDefaultTimeoutSeconds
		}
		cfg.HTTP = &c
	}
	return cfg
}

// sanitizeHeaders trims and removes empty headers.
func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// validateConfig checks that required fields are present for the sink type.
func validateConfig(cfg Config) error {
	switch cfg.Type {
	case "":
		return errors.New("dead-letter type is required")
	case TypeSQS:
		if cfg.SQS == nil || cfg.SQS.QueueURL == "" {
			return fmt.Errorf("sqs queue url is required for sink %q", cfg.ID)
		}
		if cfg.SQS.Region == "" {
			return fmt.Errorf("sqs region is required for sink %q", cfg.ID)
		}
	case TypeSNS:
		if cfg.SNS == nil || cfg.SNS.TopicARN == "" {
			return fmt.Errorf("sns topic arn is required for sink %q", cfg.ID)
		}
		if cfg.SNS.Region == "" {
			return fmt.Errorf("sns region is required for sink %q", cfg.ID)
		}
	case TypeHTTP:
		if cfg.HTTP == nil || cfg.HTTP.URL == "" {
			return fmt.Errorf("http url is required for sink %q", cfg.ID)
		}
	}
	return nil
}
