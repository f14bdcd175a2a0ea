// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package config loads the server and channel configuration. Connector
// properties are transport-specific and stay as loosely typed bags until
// the connector decodes them.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ServerConfig is the root of the configuration file.
type ServerConfig struct {
	// ServerID identifies this node in persisted messages. Generated at
	// first start when empty.
	ServerID string `mapstructure:"server_id"`

	Log   LogConfig   `mapstructure:"log"`
	Store StoreConfig `mapstructure:"store"`

	Channels []ChannelConfig `mapstructure:"channels"`
}

// LogConfig mirrors the logging section.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// StoreConfig configures the message datastore.
type StoreConfig struct {
	Path string `mapstructure:"path"`
	// Takeover requires an existing schema instead of creating one, for
	// nodes attaching to a store provisioned elsewhere.
	Takeover bool `mapstructure:"takeover"`
	// PruneDays removes processed messages older than this many days.
	// Zero disables pruning.
	PruneDays int `mapstructure:"prune_days"`
	// PruneIntervalMinutes is how often the pruner runs. Default 60.
	PruneIntervalMinutes int `mapstructure:"prune_interval_minutes"`
}

// ChannelConfig is one deployable channel.
type ChannelConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`

	Source       SourceConfig        `mapstructure:"source"`
	Destinations []DestinationConfig `mapstructure:"destinations"`

	// ResponsePolicy selects the response returned to the caller:
	// "source", "postprocessor", or a destination metaDataId as a string.
	ResponsePolicy string `mapstructure:"response_policy"`
	// ResponseUpdateOnEventualSend is "never" or "aggregate". Controls
	// whether a queued destination's later send updates the stored
	// channel response.
	ResponseUpdateOnEventualSend string `mapstructure:"response_update_on_eventual_send"`

	// AttachmentThresholdBytes detaches oversized binary content (DICOM
	// pixel data) into the attachment table when the payload exceeds this
	// size. Zero disables extraction.
	AttachmentThresholdBytes int `mapstructure:"attachment_threshold_bytes"`
}

// ConnectorConfig is the part shared by sources and destinations.
type ConnectorConfig struct {
	Name      string `mapstructure:"name"`
	Transport string `mapstructure:"transport"`
	DataType  string `mapstructure:"data_type"`

	// Properties are transport specific; see DecodeProperties.
	Properties map[string]interface{} `mapstructure:"properties"`
}

// SourceConfig configures the channel source.
type SourceConfig struct {
	ConnectorConfig `mapstructure:",squash"`

	// BatchEnabled splits inbound payloads with the data type's batch
	// adaptor; each sub-message becomes an independent message.
	BatchEnabled bool `mapstructure:"batch_enabled"`
	// WaitForDestinations blocks the source response until every
	// destination settles.
	WaitForDestinations bool `mapstructure:"wait_for_destinations"`
}

// DestinationConfig configures one destination.
type DestinationConfig struct {
	ConnectorConfig `mapstructure:",squash"`

	// MetaDataID must be unique within the channel and non-zero; zero is
	// reserved for the source.
	MetaDataID int `mapstructure:"meta_data_id"`
	// Chain groups destinations sharing stop-on-error semantics.
	// Destinations with the same chain run sequentially in list order;
	// distinct chains run concurrently. Defaults to MetaDataID.
	Chain int `mapstructure:"chain"`

	Queue QueueConfig `mapstructure:"queue"`
}

// QueueConfig is the per-destination queue policy.
type QueueConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	SendFirst bool `mapstructure:"send_first"`

	ThreadCount    int    `mapstructure:"thread_count"`
	GroupBy        string `mapstructure:"group_by"`
	BufferCapacity int    `mapstructure:"buffer_capacity"`

	// RetryCount bounds inline retries before queueing or erroring.
	RetryCount          int `mapstructure:"retry_count"`
	RetryIntervalMillis int `mapstructure:"retry_interval_millis"`
}

// Load reads the configuration file at path, applying DONKEY_* environment
// overrides.
func Load(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("donkey")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("store.path", "donkey.db")
	v.SetDefault("store.prune_interval_minutes", 60)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that decoding cannot express.
func (c *ServerConfig) Validate() error {
	seen := map[string]bool{}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.ID == "" {
			return fmt.Errorf("channel %d: missing id", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = true
		if ch.Source.Transport == "" {
			return fmt.Errorf("channel %s: source has no transport", ch.ID)
		}
		metaDataIDs := map[int]bool{}
		for j := range ch.Destinations {
			d := &ch.Destinations[j]
			if d.MetaDataID <= 0 {
				return fmt.Errorf("channel %s: destination %q needs a positive meta_data_id", ch.ID, d.Name)
			}
			if metaDataIDs[d.MetaDataID] {
				return fmt.Errorf("channel %s: duplicate meta_data_id %d", ch.ID, d.MetaDataID)
			}
			metaDataIDs[d.MetaDataID] = true
			if d.Chain == 0 {
				d.Chain = d.MetaDataID
			}
			if d.Queue.ThreadCount <= 0 {
				d.Queue.ThreadCount = 1
			}
		}
		switch ch.ResponseUpdateOnEventualSend {
		case "", "never", "aggregate":
		default:
			return fmt.Errorf("channel %s: response_update_on_eventual_send must be never or aggregate", ch.ID)
		}
	}
	return nil
}

// DecodeProperties decodes a connector's property bag into a
// transport-specific struct.
func DecodeProperties(properties map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("decoding connector properties: %w", err)
	}
	return nil
}
