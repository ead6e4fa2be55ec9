package postgres

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditCompression_RoundTrip(t *testing.T) {
	s, err := NewAuditService(nil)
	require.NoError(t, err)

	small := AuditEntry{Changes: []byte(`{"qty":"1.0000"}`)}
	s.compress(&small)
	assert.Equal(t, CompressionNone, small.CompressionAlgo)
	assert.Nil(t, small.ChangesCompressed)

	payload := append([]byte(`{"lines":"`), bytes.Repeat([]byte("x"), defaultCompressThreshold)...)
	payload = append(payload, []byte(`"}`)...)
	large := AuditEntry{Changes: append([]byte(nil), payload...)}
	s.compress(&large)
	assert.Equal(t, CompressionZstd, large.CompressionAlgo)
	assert.Nil(t, large.Changes)
	assert.Less(t, len(large.ChangesCompressed), len(payload))

	require.NoError(t, s.decompress(&large))
	assert.Equal(t, payload, []byte(large.Changes))
	assert.Nil(t, large.ChangesCompressed)
}
