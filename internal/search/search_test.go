package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePlainText(t *testing.T) {
	q := Parse("connection refused")
	assert.Equal(t, "connection refused", q.FreeText)
	assert.Empty(t, q.Level)
	assert.Empty(t, q.Meta)
}

func TestParseRecognizedKeys(t *testing.T) {
	q := Parse("level:error app:checkout session:abc timeout")
	assert.Equal(t, "error", q.Level)
	assert.Equal(t, "checkout", q.App)
	assert.Equal(t, "abc", q.Session)
	assert.Equal(t, "timeout", q.FreeText)
}

func TestParseQuotedValue(t *testing.T) {
	q := Parse(`app:"my service" failed`)
	assert.Equal(t, "my service", q.App)
	assert.Equal(t, "failed", q.FreeText)
}

func TestParseUnrecognizedKeyBecomesMetaFilter(t *testing.T) {
	q := Parse("userId:42 region:eu-west slow request")
	assert.Equal(t, []MetaFilter{
		{Key: "userId", Value: "42"},
		{Key: "region", Value: "eu-west"},
	}, q.Meta)
	assert.Equal(t, "slow request", q.FreeText)
}

func TestParseMetaKeyKeepsCase(t *testing.T) {
	// Metadata keys pass through untouched; only recognized keys are
	// matched case-insensitively.
	q := Parse("RequestID:abc LEVEL:error")
	assert.Equal(t, []MetaFilter{{Key: "RequestID", Value: "abc"}}, q.Meta)
	assert.Equal(t, "error", q.Level)
}

func TestParseFirstValueWins(t *testing.T) {
	q := Parse("level:error level:warn")
	assert.Equal(t, "error", q.Level)
}

func TestParseEmpty(t *testing.T) {
	q := Parse("")
	assert.Equal(t, Query{}, q)
}

func TestParseOnlyFilters(t *testing.T) {
	q := Parse("level:warn")
	assert.Equal(t, "warn", q.Level)
	assert.Equal(t, "", q.FreeText)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"connection", "refused"}, Tokens("connection, refused!"))
	assert.Equal(t, []string{"db_conn", "10"}, Tokens(`db_conn:"10"`))
	assert.Empty(t, Tokens("  --- "))
}
