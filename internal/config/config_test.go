package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsPassValidation(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "unknown mode")
}

func TestValidateRejectsMissingVenueURLsInFeedMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "feed"
	cfg.VenueA.BaseURL = ""
	err := cfg.Validate()
	assert.ErrorContains(t, err, "venue_a")
}

func TestValidateDoesNotRequireVenueURLsOutsideFeedMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "risk_daemon"
	cfg.VenueA.BaseURL = ""
	cfg.VenueB.BaseURL = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsInvalidDatabasePoolBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Database.PoolMinConns = cfg.Database.PoolMaxConns + 1
	err := cfg.Validate()
	assert.ErrorContains(t, err, "pool_min_conns must not exceed pool_max_conns")
}

func TestValidateRejectsZeroGroupMax(t *testing.T) {
	cfg := Defaults()
	cfg.RiskLimits.GroupMax = 0
	err := cfg.Validate()
	assert.ErrorContains(t, err, "group_max")
}
