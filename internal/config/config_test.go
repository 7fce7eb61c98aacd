package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlDoc = `
verbosity: debug
address: 127.0.0.1:5353
cache_size: 100
upstreams:
  - tag: google
    method:
      udp:
        addr: 8.8.8.8:53
        timeout: 2
table:
  - tag: start
    if: any
    then:
      - query: google
      - end
`

const jsonDoc = `{
  "address": "127.0.0.1:5353",
  "cache_size": 100,
  "upstreams": [
    {"tag": "google", "method": {"udp": {"addr": "8.8.8.8:53", "timeout": 2}}}
  ],
  "table": [
    {"tag": "start", "if": "any", "then": [{"query": "google"}, "end"]}
  ]
}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "config.yaml", yamlDoc)
	built, err := Load(path)
	require.NoError(t, err)
	defer built.Close()

	assert.Equal(t, "debug", built.Verbosity)
	assert.Equal(t, "127.0.0.1:5353", built.Address)
	assert.Equal(t, 100, built.CacheSize)

	_, ok := built.Upstreams.Lookup("google")
	assert.True(t, ok)
}

func TestLoadJSONIsSemanticallyIdenticalToYAML(t *testing.T) {
	path := writeTemp(t, "config.json", jsonDoc)
	built, err := Load(path)
	require.NoError(t, err)
	defer built.Close()

	assert.Equal(t, "info", built.Verbosity, "verbosity defaults to info when omitted")
	assert.Equal(t, "127.0.0.1:5353", built.Address)
	assert.Equal(t, 100, built.CacheSize)

	_, ok := built.Upstreams.Lookup("google")
	assert.True(t, ok)
}

func TestLoadMissingAddressErrors(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
cache_size: 10
upstreams: []
table:
  - tag: start
    if: any
    then: [end]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingStartRuleErrors(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
address: 127.0.0.1:53
cache_size: 10
upstreams: []
table:
  - tag: not_start
    if: any
    then: [end]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUnknownMatcherKeyErrors(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
address: 127.0.0.1:53
cache_size: 10
upstreams: []
table:
  - tag: start
    if:
      bogus: true
    then: [end]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadElseDefaultsToSkipEnd(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
address: 127.0.0.1:53
cache_size: 10
upstreams:
  - tag: google
    method:
      udp: {addr: 8.8.8.8:53}
table:
  - tag: start
    if:
      qtype: [A]
    then: [{query: google}, end]
`)
	built, err := Load(path)
	require.NoError(t, err)
	defer built.Close()
	assert.NotNil(t, built.Router)
}

func TestLoadNonexistentFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
