package marketfeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVenueBSymbolStripsUSDTMSuffix(t *testing.T) {
	assert.Equal(t, "BTCUSDT", normalizeVenueBSymbol("BTCUSDT_UMCBL"))
}

func TestNormalizeVenueBSymbolStripsDMCBLSuffix(t *testing.T) {
	assert.Equal(t, "BTCUSD", normalizeVenueBSymbol("BTCUSD_DMCBL"))
}

func TestNormalizeVenueBSymbolLeavesUnsuffixedAlone(t *testing.T) {
	assert.Equal(t, "BTCUSDT", normalizeVenueBSymbol("BTCUSDT"))
}
