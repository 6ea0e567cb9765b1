package sd_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/libresd"
	"github.com/dargueta/libresd/sd"
)

func TestInitSDHC(t *testing.T) {
	hal := newFakeHAL(2048, true) // 1 MiB, block-addressed
	card, err := sd.Init(hal, libresd.Config{}, 0)
	require.NoError(t, err)
	assert.True(t, card.Ready())
	assert.Equal(t, sd.CardSDHC, card.Type)
	assert.True(t, card.BlockAddressed)
	assert.EqualValues(t, 2048, card.SectorCount)
}

func TestInitSDSC(t *testing.T) {
	hal := newFakeHAL(2048, false) // byte-addressed: CMD58 never sets CCS
	card, err := sd.Init(hal, libresd.Config{}, 0)
	require.NoError(t, err)
	assert.Equal(t, sd.CardSDv2, card.Type)
	assert.False(t, card.BlockAddressed)
}

func TestInitNoCard(t *testing.T) {
	hal := newFakeHAL(2048, true)
	_, err := sd.Init(&noCardHAL{fakeHAL: hal}, libresd.Config{}, 0)
	require.Error(t, err)
	assert.Equal(t, libresd.ErrNoCard, libresd.Of(err))
}

// noCardHAL wraps fakeHAL but reports the card as absent, exercising the
// CardDetector short-circuit in Init.
type noCardHAL struct {
	*fakeHAL
}

func (h *noCardHAL) CardDetect() bool { return false }

func TestReadWriteSectorRoundTrip(t *testing.T) {
	hal := newFakeHAL(2048, true)
	card, err := sd.Init(hal, libresd.Config{}, 0)
	require.NoError(t, err)

	want := make([]byte, sd.BlockSize)
	for i := range want {
		want[i] = byte(i * 7)
	}
	require.NoError(t, card.WriteSector(100, want))

	got := make([]byte, sd.BlockSize)
	require.NoError(t, card.ReadSector(100, got))
	assert.Equal(t, want, got)
}

func TestWriteSectorWriteProtected(t *testing.T) {
	hal := newFakeHAL(2048, true)
	card, err := sd.Init(hal, libresd.Config{}, 0)
	require.NoError(t, err)

	hal.protect = true
	buf := make([]byte, sd.BlockSize)
	err = card.WriteSector(0, buf)
	require.Error(t, err)
	assert.Equal(t, libresd.ErrWriteProtected, libresd.Of(err))
}

func TestReadSectorBufferTooSmall(t *testing.T) {
	hal := newFakeHAL(2048, true)
	card, err := sd.Init(hal, libresd.Config{}, 0)
	require.NoError(t, err)

	err = card.ReadSector(0, make([]byte, 10))
	require.Error(t, err)
	assert.Equal(t, libresd.ErrInvalidParameter, libresd.Of(err))
}

func TestErase(t *testing.T) {
	hal := newFakeHAL(2048, true)
	card, err := sd.Init(hal, libresd.Config{}, 0)
	require.NoError(t, err)

	assert.NoError(t, card.Erase(0, 63))
}

func TestEraseWriteProtected(t *testing.T) {
	hal := newFakeHAL(2048, true)
	card, err := sd.Init(hal, libresd.Config{}, 0)
	require.NoError(t, err)

	hal.protect = true
	err = card.Erase(0, 63)
	require.Error(t, err)
	assert.Equal(t, libresd.ErrWriteProtected, libresd.Of(err))
}
