package util

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQueryParam(t *testing.T) {
	u, err := url.Parse("kafka://localhost:9092/chainstate?partitions=4&retention=bad&flush_bytes=")
	require.NoError(t, err)

	assert.Equal(t, 4, GetQueryParamInt(u, "partitions", 1))
	assert.Equal(t, 1, GetQueryParamInt(u, "replication", 1))
	assert.Equal(t, 7, GetQueryParamInt(u, "retention", 7))
	assert.Equal(t, "bad", GetQueryParam(u, "retention", "600000"))
	assert.Equal(t, "1024", GetQueryParam(u, "flush_bytes", "1024"))
}
