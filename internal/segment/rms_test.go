package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bitWriter is rmsTest's counterpart to bitReader: packs MSB-first bits
// into bytes so tests can build synthetic raw_data_blocks.
type bitWriter struct {
	bits []bool
}

func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bits = append(w.bits, (v>>uint(i))&1 == 1)
	}
}

func (w *bitWriter) bytes() []byte {
	out := make([]byte, (len(w.bits)+7)/8)
	for i, b := range w.bits {
		if b {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}

func sceFrame(instanceTag uint32, globalGain uint32) []byte {
	w := &bitWriter{}
	w.writeBits(elemSCE, 3)
	w.writeBits(instanceTag, 4)
	w.writeBits(globalGain, 8)
	return w.bytes()
}

func cpeFrame(instanceTag uint32, commonWindow uint32, globalGain uint32) []byte {
	w := &bitWriter{}
	w.writeBits(elemCPE, 3)
	w.writeBits(instanceTag, 4)
	w.writeBits(commonWindow, 1)
	w.writeBits(globalGain, 8)
	return w.bytes()
}

func TestEstimateRMSDB_SingleChannelElement(t *testing.T) {
	dB, ok := EstimateRMSDB(sceFrame(0, 130))
	require.True(t, ok)
	assert.Less(t, dB, 0.0)
}

func TestEstimateRMSDB_ChannelPairElementWithoutCommonWindow(t *testing.T) {
	dB, ok := EstimateRMSDB(cpeFrame(1, 0, 130))
	require.True(t, ok)
	assert.Greater(t, dB, -200.0)
}

func TestEstimateRMSDB_ChannelPairElementWithCommonWindowBailsOut(t *testing.T) {
	_, ok := EstimateRMSDB(cpeFrame(1, 1, 130))
	assert.False(t, ok)
}

func TestEstimateRMSDB_HigherGlobalGainIsLouder(t *testing.T) {
	quiet, ok := EstimateRMSDB(sceFrame(0, 40))
	require.True(t, ok)
	loud, ok := EstimateRMSDB(sceFrame(0, 200))
	require.True(t, ok)
	assert.Less(t, quiet, loud)
}

func TestEstimateRMSDB_TruncatedPayload(t *testing.T) {
	// SCE element id and instance tag, with global_gain cut off.
	_, ok := EstimateRMSDB([]byte{0x00})
	assert.False(t, ok)
}

func TestEstimateRMSDB_UnsupportedElementType(t *testing.T) {
	w := &bitWriter{}
	w.writeBits(4, 3) // ID_DSE, unsupported
	_, ok := EstimateRMSDB(w.bytes())
	assert.False(t, ok)
}
