package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/party"
)

const minimal = `
folders:
  work: /tmp/as2/work
  delivery: /tmp/as2/inbox
localParty: globex
parties:
  - alias: globex
    signCertAlias: globex
    encryptCertAlias: globex
    signKeyPassphrase: ${AS2_TEST_PASS}
  - alias: Acme
    url: https://acme.example/as2
    signCertAlias: acme
    encryptCertAlias: acme
    sign: true
    encrypt: true
    encryptAlgorithm: CAST5-CBC
    mdnMode: sync
    requestSignedMDN: true
`

func TestLoad(t *testing.T) {
	t.Setenv("AS2_TEST_PASS", "s3cret")
	path := filepath.Join(t.TempDir(), "as2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, ":8080", cfg.Server.Address)
		assert.Equal(t, "/as2", cfg.Server.Path)
		assert.Equal(t, "/as2/mdn", cfg.Server.MDNPath)
		assert.Equal(t, "file", cfg.Keystore.Mode)
		assert.Equal(t, "{alias}", cfg.Keystore.PKCS11.LabelPattern)
		assert.Equal(t, "/tmp/as2/work/backup", cfg.Folders.Backup)
		assert.Equal(t, 3*time.Second, cfg.MDN.AsyncWindow)
		assert.Equal(t, time.Second, cfg.MDN.SweepInterval)
		assert.Equal(t, 10*time.Second, cfg.Sender.PollInterval)
		assert.Equal(t, "as2", cfg.Storage.MongoDB.Database)
		assert.Equal(t, "/metrics", cfg.Metrics.Metrics.Path)
	})

	t.Run("parties", func(t *testing.T) {
		require.Len(t, cfg.PartyConfigs, 2)
		assert.Equal(t, "globex", cfg.PartyConfigs[0].Alias)

		parties, err := cfg.Parties()
		require.NoError(t, err)

		local, err := parties.Local()
		require.NoError(t, err)
		assert.Equal(t, "globex", local.Alias)
		assert.Equal(t, "s3cret", local.SignKeyPassphrase)

		acme, err := parties.Get("acme")
		require.NoError(t, err)
		assert.False(t, acme.Local)
		assert.Equal(t, message.CipherCAST5, acme.EncryptAlgorithm)
		assert.Equal(t, message.DigestSHA1, acme.SignDigestAlgorithm)
		assert.Equal(t, party.MDNSync, acme.MDNMode)
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{
			name:   "invalid yaml",
			config: "folders: [",
			want:   "parsing config file",
		},
		{
			name:   "unknown keystore mode",
			config: "keystore:\n  mode: vault\n" + minimal,
			want:   "keystore.mode",
		},
		{
			name:   "pkcs11 without module",
			config: "keystore:\n  mode: pkcs11\n" + minimal,
			want:   "modulePath",
		},
		{
			name:   "missing work folder",
			config: "folders:\n  delivery: /tmp/in\nlocalParty: x\n",
			want:   "folders.work",
		},
		{
			name:   "missing local party",
			config: "folders:\n  work: /tmp/w\n  delivery: /tmp/in\n",
			want:   "localParty is required",
		},
		{
			name: "local party not listed",
			config: `
folders: {work: /tmp/w, delivery: /tmp/in}
localParty: initech
parties:
  - {alias: globex, signCertAlias: g, encryptCertAlias: g}
`,
			want: "not in the parties list",
		},
		{
			name: "duplicate alias",
			config: `
folders: {work: /tmp/w, delivery: /tmp/in}
localParty: globex
parties:
  - {alias: globex, signCertAlias: g, encryptCertAlias: g}
  - {alias: GLOBEX, signCertAlias: g, encryptCertAlias: g}
`,
			want: "duplicate alias",
		},
		{
			name: "unknown cipher",
			config: `
folders: {work: /tmp/w, delivery: /tmp/in}
localParty: globex
parties:
  - {alias: globex, signCertAlias: g, encryptCertAlias: g}
  - {alias: acme, url: "http://acme", encryptCertAlias: a, encrypt: true, encryptAlgorithm: rot13}
`,
			want: "rot13",
		},
		{
			name: "async without mdn url",
			config: `
folders: {work: /tmp/w, delivery: /tmp/in}
localParty: globex
parties:
  - {alias: globex, signCertAlias: g, encryptCertAlias: g}
  - {alias: acme, url: "http://acme", mdnMode: async}
`,
			want: "mdn.asyncURL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.config))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLimitsMaxFileSize(t *testing.T) {
	assert.Equal(t, int64(0), LimitsConfig{}.MaxFileSize())
	assert.Equal(t, int64(5<<20), LimitsConfig{MaxFileSizeMB: 5}.MaxFileSize())
}
