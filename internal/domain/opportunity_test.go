package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewGroupIDFormat(t *testing.T) {
	at := time.Date(2025, 1, 15, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "BTCUSDT-20250115030405", NewGroupID("BTCUSDT", at))
}

func TestNewGroupIDCollapsesSameUTCSecond(t *testing.T) {
	at := time.Date(2025, 1, 15, 3, 4, 5, 0, time.UTC)
	later := at.Add(400 * time.Millisecond)
	assert.Equal(t, NewGroupID("BTCUSDT", at), NewGroupID("BTCUSDT", later))
}
