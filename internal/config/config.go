// Package config handles configuration loading for the AS2 server.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials, key passphrases and HSM PINs to be injected at
// runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (address, endpoint paths, TLS)
//   - storage: audit trail database (MongoDB URI; empty keeps it in memory)
//   - keystore: certificate and key source (file or pkcs11)
//   - folders: work, backup, delivery and outbox folders
//   - limits: maximum payload size
//   - oauth2: bearer token validation for the audit API
//   - mdn: asynchronous MDN endpoint and confirmation window
//   - sender: outbox polling
//   - localParty, parties: our identity and the trading partners
//
// # Example Configuration
//
//	server:
//	  address: ":8443"
//	  tls:
//	    enabled: true
//	    certFile: /etc/ssl/server.crt
//	    keyFile: /etc/ssl/server.key
//
//	keystore:
//	  mode: file
//	  file:
//	    keyDir: /etc/as2/keys
//
//	folders:
//	  work: /var/lib/as2/work
//	  delivery: /var/lib/as2/inbox
//	  outbox: /var/lib/as2/outbox
//
//	mdn:
//	  asyncURL: https://as2.example.com/as2/mdn
//
//	localParty: globex
//	parties:
//	  - alias: globex
//	    signCertAlias: globex
//	    encryptCertAlias: globex
//	    signKeyPassphrase: ${GLOBEX_KEY_PASS}
//	  - alias: acme
//	    url: https://as2.acme.example/as2
//	    signCertAlias: acme
//	    encryptCertAlias: acme
//	    sign: true
//	    encrypt: true
//	    encryptAlgorithm: 3des
//	    mdnMode: sync
//	    requestSignedMDN: true
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-as2/pkg/party"
)

// Config is the root configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Folders  FoldersConfig  `yaml:"folders"`
	Limits   LimitsConfig   `yaml:"limits"`
	MDN      MDNConfig      `yaml:"mdn"`
	Sender   SenderConfig   `yaml:"sender"`
	Metrics  MetricsConfig  `yaml:"observability"`
	OAuth2   OAuth2Config   `yaml:"oauth2"`

	// LocalParty is the alias of our own identity
	LocalParty   string        `yaml:"localParty"`
	PartyConfigs []PartyConfig `yaml:"parties"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address string `yaml:"address"`
	// Path receives AS2 messages
	Path string `yaml:"path"`
	// MDNPath receives asynchronous MDNs
	MDNPath string `yaml:"mdnPath"`
	TLS     struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	// URI selects MongoDB; empty keeps the audit trail in memory
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	GridFS   struct {
		BucketName     string `yaml:"bucketName"`
		ChunkSizeBytes int    `yaml:"chunkSizeBytes"`
	} `yaml:"gridfs"`
}

// KeystoreConfig holds certificate and key management settings
type KeystoreConfig struct {
	// Mode determines where certificates and keys are kept
	// - "file": PEM files, one <alias>.crt and <alias>.key per alias
	// - "pkcs11": PKCS#11 token (HSM/smart card), objects labelled by alias
	Mode string `yaml:"mode"`

	File   FileKeyConfig `yaml:"file"`
	PKCS11 PKCS11Config  `yaml:"pkcs11"`

	// TrustRoots is a PEM bundle of CA certificates. When set, partner
	// signing certificates must chain to one of them; otherwise only their
	// validity period is checked.
	TrustRoots string `yaml:"trustRoots"`
}

// FileKeyConfig holds file-based key settings
type FileKeyConfig struct {
	// Directory containing PEM certificate and key files
	KeyDir string `yaml:"keyDir"`
}

// PKCS11Config holds PKCS#11 HSM settings
type PKCS11Config struct {
	// Path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string `yaml:"modulePath"`
	// Slot ID or label to use
	SlotID    uint   `yaml:"slotId"`
	SlotLabel string `yaml:"slotLabel"`
	// PIN for authentication (can be env var reference like ${HSM_PIN})
	PIN string `yaml:"pin"`
	// Object label pattern, {alias} is replaced by the certificate alias
	LabelPattern string `yaml:"labelPattern"`
}

// FoldersConfig holds the folders the node works in
type FoldersConfig struct {
	Work     string `yaml:"work"`
	Backup   string `yaml:"backup"`
	DoBackup bool   `yaml:"doBackup"`
	// Delivery receives inbound payloads in one folder per sender
	Delivery string `yaml:"delivery"`
	// Outbox holds one folder per partner alias with files to send
	Outbox string `yaml:"outbox"`
}

// LimitsConfig holds size restrictions
type LimitsConfig struct {
	// MaxFileSizeMB rejects larger payloads; zero disables the check
	MaxFileSizeMB int `yaml:"maxFileSizeMB"`
}

// MaxFileSize returns the limit in bytes
func (l LimitsConfig) MaxFileSize() int64 {
	return int64(l.MaxFileSizeMB) << 20
}

// MDNConfig holds acknowledgment settings
type MDNConfig struct {
	// AsyncURL is sent as Receipt-Delivery-Option to partners using
	// asynchronous MDNs
	AsyncURL string `yaml:"asyncURL"`
	// AsyncWindow is how long a message waits for its asynchronous MDN
	AsyncWindow   time.Duration `yaml:"asyncWindow"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// SenderConfig holds outbound settings
type SenderConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"pollInterval"`
	SendTimeout  time.Duration `yaml:"sendTimeout"`
	UserAgent    string        `yaml:"userAgent"`

	// MaxRetries bounds transport retries before a file is moved to failed/
	MaxRetries     int           `yaml:"maxRetries"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// OAuth2Config holds bearer token settings for the audit API. An empty
// issuer leaves the API unauthenticated.
type OAuth2Config struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSUrl  string `yaml:"jwksUrl"`
	// RequiredScope must appear in the token's scope claim, if set
	RequiredScope string `yaml:"requiredScope"`
}

// PartyConfig is one entry of the parties list
type PartyConfig struct {
	Alias string `yaml:"alias"`
	URL   string `yaml:"url"`
	Email string `yaml:"email"`

	SignCertAlias        string `yaml:"signCertAlias"`
	SignKeyPassphrase    string `yaml:"signKeyPassphrase"`
	EncryptCertAlias     string `yaml:"encryptCertAlias"`
	EncryptKeyPassphrase string `yaml:"encryptKeyPassphrase"`

	Sign     bool `yaml:"sign"`
	Encrypt  bool `yaml:"encrypt"`
	Compress bool `yaml:"compress"`

	SignDigestAlgorithm  string `yaml:"signDigestAlgorithm"`
	EncryptAlgorithm     string `yaml:"encryptAlgorithm"`
	CompressionAlgorithm string `yaml:"compressionAlgorithm"`

	ContentType string `yaml:"contentType"`
	Subject     string `yaml:"subject"`

	MDNMode             string `yaml:"mdnMode"`
	RequestSignedMDN    bool   `yaml:"requestSignedMDN"`
	MDNSigningAlgorithm string `yaml:"mdnSigningAlgorithm"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/as2"
	}
	if c.Server.MDNPath == "" {
		c.Server.MDNPath = "/as2/mdn"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "as2"
	}
	if c.Storage.MongoDB.GridFS.BucketName == "" {
		c.Storage.MongoDB.GridFS.BucketName = "receipts"
	}
	if c.Storage.MongoDB.GridFS.ChunkSizeBytes == 0 {
		c.Storage.MongoDB.GridFS.ChunkSizeBytes = 261120 // 255KB
	}
	if c.Keystore.Mode == "" {
		c.Keystore.Mode = "file"
	}
	if c.Keystore.File.KeyDir == "" {
		c.Keystore.File.KeyDir = "./keys"
	}
	if c.Keystore.PKCS11.LabelPattern == "" {
		c.Keystore.PKCS11.LabelPattern = "{alias}"
	}
	if c.Folders.Backup == "" && c.Folders.Work != "" {
		c.Folders.Backup = c.Folders.Work + "/backup"
	}
	if c.MDN.AsyncWindow == 0 {
		c.MDN.AsyncWindow = 3 * time.Second
	}
	if c.MDN.SweepInterval == 0 {
		c.MDN.SweepInterval = time.Second
	}
	if c.Sender.PollInterval == 0 {
		c.Sender.PollInterval = 10 * time.Second
	}
	if c.Sender.SendTimeout == 0 {
		c.Sender.SendTimeout = 60 * time.Second
	}
	if c.Sender.MaxRetries == 0 {
		c.Sender.MaxRetries = 5
	}
	if c.Sender.InitialBackoff == 0 {
		c.Sender.InitialBackoff = time.Minute
	}
	if c.Sender.MaxBackoff == 0 {
		c.Sender.MaxBackoff = time.Hour
	}
	if c.Metrics.Metrics.Path == "" {
		c.Metrics.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	switch c.Keystore.Mode {
	case "file", "pkcs11":
		// Valid modes
	default:
		return fmt.Errorf("keystore.mode must be 'file' or 'pkcs11', got '%s'", c.Keystore.Mode)
	}

	if c.Keystore.Mode == "pkcs11" && c.Keystore.PKCS11.ModulePath == "" {
		return fmt.Errorf("keystore.pkcs11.modulePath is required when mode is 'pkcs11'")
	}

	if c.Folders.Work == "" {
		return fmt.Errorf("folders.work is required")
	}
	if c.Folders.Delivery == "" {
		return fmt.Errorf("folders.delivery is required")
	}
	if c.Sender.Enabled && c.Folders.Outbox == "" {
		return fmt.Errorf("folders.outbox is required when the sender is enabled")
	}
	if c.Limits.MaxFileSizeMB < 0 {
		return fmt.Errorf("limits.maxFileSizeMB must not be negative")
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.certFile and server.tls.keyFile are required when TLS is enabled")
	}

	if c.OAuth2.Issuer != "" && c.OAuth2.JWKSUrl == "" {
		return fmt.Errorf("oauth2.jwksUrl is required when oauth2.issuer is set")
	}

	if c.LocalParty == "" {
		return fmt.Errorf("localParty is required")
	}
	parties, err := c.Parties()
	if err != nil {
		return err
	}
	for _, p := range parties.All() {
		if p.MDNMode == party.MDNAsync && c.MDN.AsyncURL == "" {
			return fmt.Errorf("party %s uses asynchronous MDNs but mdn.asyncURL is not set", p.Alias)
		}
	}
	return nil
}

// Parties builds the party registry. Algorithm identifiers are validated
// and normalized, so an unknown identifier fails here rather than on the
// first transfer.
func (c *Config) Parties() (*party.Registry, error) {
	registry := party.NewRegistry()
	seen := make(map[string]bool)
	localFound := false

	for i, pc := range c.PartyConfigs {
		key := strings.ToLower(strings.TrimSpace(pc.Alias))
		if key == "" {
			return nil, fmt.Errorf("parties[%d]: alias is required", i)
		}
		if seen[key] {
			return nil, fmt.Errorf("parties[%d]: duplicate alias %q", i, pc.Alias)
		}
		seen[key] = true

		p := pc.party()
		p.Local = strings.EqualFold(p.Alias, c.LocalParty)
		localFound = localFound || p.Local
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("parties[%d]: %w", i, err)
		}
		registry.Add(p)
	}

	if !localFound {
		return nil, fmt.Errorf("localParty %q is not in the parties list", c.LocalParty)
	}
	return registry, nil
}

func (pc PartyConfig) party() *party.Party {
	return &party.Party{
		Alias:                strings.TrimSpace(pc.Alias),
		URL:                  pc.URL,
		Email:                pc.Email,
		SignCertAlias:        pc.SignCertAlias,
		SignKeyPassphrase:    pc.SignKeyPassphrase,
		EncryptCertAlias:     pc.EncryptCertAlias,
		EncryptKeyPassphrase: pc.EncryptKeyPassphrase,
		Sign:                 pc.Sign,
		Encrypt:              pc.Encrypt,
		Compress:             pc.Compress,
		SignDigestAlgorithm:  pc.SignDigestAlgorithm,
		EncryptAlgorithm:     pc.EncryptAlgorithm,
		CompressionAlgorithm: pc.CompressionAlgorithm,
		ContentType:          pc.ContentType,
		Subject:              pc.Subject,
		MDNMode:              party.MDNMode(pc.MDNMode),
		RequestSignedMDN:     pc.RequestSignedMDN,
		MDNSigningAlgorithm:  pc.MDNSigningAlgorithm,
	}
}
