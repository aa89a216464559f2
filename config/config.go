package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"net/url"
	"reflect"
	"time"

	"github.com/GoogleCloudPlatform/esagent/document"
	"github.com/ghodss/yaml"
)

const (
	DefaultBulkSize                = 1
	DefaultReconnectionPolicyCount = 3
	DefaultReconnectionInterval    = 1.0 // seconds
)

// Config contains configuration for the agent.
type Config struct {
	// The cluster nodes, as base URLs. Requests fail over between them in order.
	Nodes []string `json:"nodes"`

	// The number of buffered documents that triggers a bulk request.
	BulkSize int `json:"bulkSize"`

	// The number of reconnection rounds tried after every node failed. Unset means
	// DefaultReconnectionPolicyCount.
	ReconnectionPolicyCount *int `json:"reconnectionPolicyCount"`

	// The number of seconds to wait between reconnection rounds. Zero means
	// DefaultReconnectionInterval.
	ReconnectionInterval float64 `json:"reconnectionInterval"`

	// Transport timeouts in milliseconds. Zero means no timeout.
	ConnectionTimeout     int64 `json:"connectionTimeout"`
	ReadTimeout           int64 `json:"readTimeout"`
	MaxConnectionIdleTime int64 `json:"maxConnectionIdleTime"`

	UserName string `json:"userName"`
	Password string `json:"password"`

	SSL *SSL `json:"ssl"`

	// ConsistentRegion disables the bulk size trigger; documents are sent when the replay
	// coordinator drains.
	ConsistentRegion bool `json:"consistentRegion"`

	// CreateIndexes creates missing target indices. Unset means true.
	CreateIndexes *bool `json:"createIndexes"`

	Document   *Document   `json:"document"`
	DeadLetter *DeadLetter `json:"deadLetter"`
}

// SSL contains the TLS settings used for https nodes.
type SSL struct {
	Enabled              bool   `json:"enabled"`
	TrustAllCertificates bool   `json:"trustAllCertificates"`
	TrustStore           string `json:"trustStore"` // PEM file of CA certificates
	VerifyHostname       *bool  `json:"verifyHostname"`
}

// Document describes how input records are mapped to documents.
type Document struct {
	Index           string `json:"index"`
	IndexField      string `json:"indexField"`
	Type            string `json:"type"`
	TypeField       string `json:"typeField"`
	Id              string `json:"id"`
	IdField         string `json:"idField"`
	StoreTimestamps bool   `json:"storeTimestamps"`
	TimestampName   string `json:"timestampName"`
	TimestampField  string `json:"timestampField"`
}

// DeadLetter configures where undeliverable documents are kept. An empty directory keeps them in
// memory.
type DeadLetter struct {
	Directory string `json:"directory"`
}

func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetBulkSize returns the configured bulk size, or DefaultBulkSize if none is set.
func (c *Config) GetBulkSize() int {
	if c.BulkSize == 0 {
		return DefaultBulkSize
	}
	return c.BulkSize
}

func (c *Config) GetReconnectionPolicyCount() int {
	if c.ReconnectionPolicyCount == nil {
		return DefaultReconnectionPolicyCount
	}
	return *c.ReconnectionPolicyCount
}

func (c *Config) GetReconnectionInterval() time.Duration {
	seconds := c.ReconnectionInterval
	if seconds == 0 {
		seconds = DefaultReconnectionInterval
	}
	return time.Duration(seconds * float64(time.Second))
}

func (c *Config) GetCreateIndexes() bool {
	return c.CreateIndexes == nil || *c.CreateIndexes
}

// UseBasicAuth returns true if requests carry credentials.
func (c *Config) UseBasicAuth() bool {
	return c.UserName != ""
}

// GetVerifyHostname returns whether server host names are checked against their certificates.
// Unset means true.
func (s *SSL) GetVerifyHostname() bool {
	return s.VerifyHostname == nil || *s.VerifyHostname
}

// Mapping returns the document.Mapping described by d.
func (d *Document) Mapping() document.Mapping {
	return document.Mapping{
		Index:           d.Index,
		IndexField:      d.IndexField,
		Type:            d.Type,
		TypeField:       d.TypeField,
		Id:              d.Id,
		IdField:         d.IdField,
		StoreTimestamps: d.StoreTimestamps,
		TimestampName:   d.TimestampName,
		TimestampField:  d.TimestampField,
	}
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (c *Config) GetConnectionTimeout() time.Duration     { return millis(c.ConnectionTimeout) }
func (c *Config) GetReadTimeout() time.Duration           { return millis(c.ReadTimeout) }
func (c *Config) GetMaxConnectionIdleTime() time.Duration { return millis(c.MaxConnectionIdleTime) }

// Validation

type Validatable interface {
	Validate() error
}

func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("no nodes defined")
	}
	for _, n := range c.Nodes {
		u, err := url.Parse(n)
		if err != nil {
			return fmt.Errorf("node %v: %v", n, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("node %v: scheme must be http or https", n)
		}
		if u.Host == "" {
			return fmt.Errorf("node %v: missing host", n)
		}
	}
	if c.BulkSize < 0 {
		return errors.New("bulkSize must not be negative")
	}
	if c.ReconnectionPolicyCount != nil && *c.ReconnectionPolicyCount < 0 {
		return errors.New("reconnectionPolicyCount must not be negative")
	}
	if c.ReconnectionInterval < 0 {
		return errors.New("reconnectionInterval must not be negative")
	}
	if c.ConnectionTimeout < 0 || c.ReadTimeout < 0 || c.MaxConnectionIdleTime < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.UserName != "" && c.Password == "" {
		return errors.New("userName requires a password")
	}
	if c.UserName == "" && c.Password != "" {
		return errors.New("password requires a userName")
	}
	for _, v := range []Validatable{c.SSL, c.Document} {
		if reflect.ValueOf(v).IsNil() {
			continue
		}
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Document == nil {
		return errors.New("missing document section")
	}
	return nil
}

func (s *SSL) Validate() error {
	if s.TrustAllCertificates && s.TrustStore != "" {
		return errors.New("ssl: trustAllCertificates and trustStore are mutually exclusive")
	}
	if !s.Enabled && (s.TrustAllCertificates || s.TrustStore != "") {
		return errors.New("ssl: certificate settings require enabled: true")
	}
	return nil
}

func (d *Document) Validate() error {
	if d.Index == "" && d.IndexField == "" {
		return errors.New("document: index or indexField must be defined")
	}
	if !d.StoreTimestamps && (d.TimestampName != "" || d.TimestampField != "") {
		return errors.New("document: timestampName and timestampField require storeTimestamps: true")
	}
	return nil
}
