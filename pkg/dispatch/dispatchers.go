package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// Supported dispatcher types.
	TypeHTTP      = "http"
	TypeSQS       = "sqs"
	TypeSNS       = "sns"
	TypeGCPPubSub = "gcppubsub"
	TypeLog       = "log"

	httpDefaultMethod         = "POST"
	httpDefaultTimeoutSeconds = 5
)

// configFile represents the structure of the dispatchers configuration file.
type configFile struct {
	Dispatchers []DispatcherConfig `json:"dispatchers" yaml:"dispatchers"`
}

// DispatcherConfig represents a single dispatcher entry declared in config files.
type DispatcherConfig struct {
	ID      string               `json:"id" yaml:"id"`
	Type    string               `json:"type" yaml:"type"`
	Enabled *bool                `json:"enabled" yaml:"enabled"`
	HTTP    *HTTPSinkConfig      `json:"http" yaml:"http"`
	SQS     *SQSSinkConfig       `json:"sqs" yaml:"sqs"`
	SNS     *SNSSinkConfig       `json:"sns" yaml:"sns"`
	GCP     *GCPPubSubSinkConfig `json:"gcppubsub" yaml:"gcppubsub"`
}

// HTTPSinkConfig holds generic HTTP sink settings.
type HTTPSinkConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// SQSSinkConfig holds AWS SQS specific settings.
type SQSSinkConfig struct {
	QueueURL        string `json:"uri" yaml:"uri"`
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// SNSSinkConfig holds AWS SNS specific settings.
type SNSSinkConfig struct {
	TopicARN        string `json:"topic_arn" yaml:"topic_arn"`
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// GCPPubSubSinkConfig holds Google Cloud Pub/Sub specific settings.
type GCPPubSubSinkConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Topic           string `json:"topic" yaml:"topic"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// ConfigRegistry materializes dispatcher definitions loaded from config files.
type ConfigRegistry struct {
	mu          sync.RWMutex
	dispatchers []DispatcherConfig
	idx         map[string]DispatcherConfig
}

// LoadRegistry loads the dispatcher registry from a YAML/JSON file.
func LoadRegistry(path string) (*ConfigRegistry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("dispatchers file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dispatchers file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read dispatchers file: %w", err)
	}

	cfg, err := parseConfigFile(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	reg := &ConfigRegistry{idx: make(map[string]DispatcherConfig, len(cfg.Dispatchers))}
	for i := range cfg.Dispatchers {
		d := sanitizeDispatcher(cfg.Dispatchers[i])
		if err := validateDispatcher(d); err != nil {
			return nil, fmt.Errorf("dispatcher[%d]: %w", i, err)
		}
		if _, exists := reg.idx[d.ID]; exists {
			return nil, fmt.Errorf("duplicate dispatcher id %q", d.ID)
		}
		reg.dispatchers = append(reg.dispatchers, d)
		reg.idx[d.ID] = d
	}
	return reg, nil
}

// Enabled returns the dispatcher configs that are not explicitly disabled.
func (r *ConfigRegistry) Enabled() []DispatcherConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DispatcherConfig, 0, len(r.dispatchers))
	for _, d := range r.dispatchers {
		if d.Enabled != nil && !*d.Enabled {
			continue
		}
		out = append(out, d)
	}
	return out
}

// All returns every declared dispatcher config.
func (r *ConfigRegistry) All() []DispatcherConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DispatcherConfig, len(r.dispatchers))
	copy(out, r.dispatchers)
	return out
}

func parseConfigFile(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var cfg configFile
		if err := d.fn(data, &cfg); err == nil {
			return cfg, nil
		}
	}
	return configFile{}, errors.New("dispatchers file format not recognized (expected YAML or JSON)")
}

func sanitizeDispatcher(d DispatcherConfig) DispatcherConfig {
	d.ID = strings.TrimSpace(d.ID)
	d.Type = strings.TrimSpace(strings.ToLower(d.Type))
	if d.HTTP != nil {
		if strings.TrimSpace(d.HTTP.Method) == "" {
			d.HTTP.Method = httpDefaultMethod
		}
		if d.HTTP.TimeoutSeconds <= 0 {
			d.HTTP.TimeoutSeconds = httpDefaultTimeoutSeconds
		}
	}
	return d
}

func validateDispatcher(d DispatcherConfig) error {
	if d.ID == "" {
		return errors.New("id is required")
	}
	if d.Type == "" {
		return fmt.Errorf("type is required for dispatcher %q", d.ID)
	}
	switch d.Type {
	case TypeHTTP:
		if d.HTTP == nil || strings.TrimSpace(d.HTTP.URL) == "" {
			return fmt.Errorf("dispatcher %q requires http.url", d.ID)
		}
	case TypeSQS:
		if d.SQS == nil || strings.TrimSpace(d.SQS.QueueURL) == "" {
			return fmt.Errorf("dispatcher %q requires sqs.uri", d.ID)
		}
	case TypeSNS:
		if d.SNS == nil || strings.TrimSpace(d.SNS.TopicARN) == "" {
			return fmt.Errorf("dispatcher %q requires sns.topic_arn", d.ID)
		}
	case TypeGCPPubSub:
		if d.GCP == nil || strings.TrimSpace(d.GCP.ProjectID) == "" || strings.TrimSpace(d.GCP.Topic) == "" {
			return fmt.Errorf("dispatcher %q requires gcppubsub.project_id and gcppubsub.topic", d.ID)
		}
	case TypeLog:
	default:
		return fmt.Errorf("dispatcher %q has unsupported type %q", d.ID, d.Type)
	}
	return nil
}
