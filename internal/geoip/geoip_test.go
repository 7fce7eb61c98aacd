package geoip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenEmptyPathIsNilNoError(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestOpenMissingFileErrors(t *testing.T) {
	_, err := Open("/nonexistent/geo.mmdb")
	assert.Error(t, err)
}

func TestLookupOnNilDBMisses(t *testing.T) {
	var db *DB
	code, ok := db.Lookup(net.ParseIP("8.8.8.8"))
	assert.False(t, ok)
	assert.Equal(t, "", code)
}

func TestLookupOnNilIPMisses(t *testing.T) {
	db := &DB{}
	code, ok := db.Lookup(nil)
	assert.False(t, ok)
	assert.Equal(t, "", code)
}

func TestCloseOnNilDBIsNoop(t *testing.T) {
	var db *DB
	assert.NoError(t, db.Close())
}
