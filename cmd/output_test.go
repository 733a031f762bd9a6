package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaimString(t *testing.T) {
	assert.Equal(t, "user-1", claimString("user-1"))
	assert.Equal(t, "2021-01-01T00:00:00Z", claimString(float64(1609459200)))
	assert.Equal(t, "42", claimString(float64(42)))
	assert.Equal(t, "true", claimString(true))
	assert.Equal(t, "[a b]", claimString([]any{"a", "b"}))
}

func TestWriteKeyValues_SkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	writeKeyValues(&buf, map[string]string{"issuer": "https://idp.example.com", "userinfo_endpoint": ""})

	assert.Contains(t, buf.String(), "https://idp.example.com")
	assert.NotContains(t, buf.String(), "userinfo_endpoint")
}
