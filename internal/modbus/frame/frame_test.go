package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCRC16KnownVector proves L4: crc16([0x01,0x05,0x00,0x00,0xFF,0x00]).
func TestCRC16KnownVector(t *testing.T) {
	got := CRC16([]byte{0x01, 0x05, 0x00, 0x00, 0xFF, 0x00})
	assert.Equal(t, uint16(0x3A8C), got)
}

func TestAppendAndVerifyCRC(t *testing.T) {
	body := []byte{0x01, 0x05, 0x00, 0x04, 0xFF, 0x00}
	framed := AppendCRC(append([]byte{}, body...))
	require.Len(t, framed, len(body)+2)
	assert.True(t, VerifyCRC(framed))

	corrupted := append([]byte{}, framed...)
	corrupted[0] ^= 0xFF
	assert.False(t, VerifyCRC(corrupted))
}

func TestWriteSingleCoilWorkedExample(t *testing.T) {
	// : "01 05 00 04 FF 00 <CRC-lo> <CRC-hi>" for card#1 channel#5 ON.
	got := WriteSingleCoil(1, ChannelCoilAddress(5), CoilOn)
	want := []byte{0x01, 0x05, 0x00, 0x04, 0xFF, 0x00}
	assert.Equal(t, want, got[:6])
	assert.True(t, VerifyCRC(got))
}

func TestLockerAddress(t *testing.T) {
	cases := []struct {
		locker      int
		slave       byte
		channel     int
	}{
		{1, 1, 1},
		{16, 1, 16},
		{17, 2, 1},
		{32, 2, 16},
		{33, 3, 1},
		{128, 8, 16},
	}
	for _, c := range cases {
		slave, ch := LockerAddress(c.locker)
		assert.Equalf(t, c.slave, slave, "locker %d slave", c.locker)
		assert.Equalf(t, c.channel, ch, "locker %d channel", c.locker)
	}
}

func TestParseWriteEchoRoundTrip(t *testing.T) {
	req := WriteSingleCoil(1, ChannelCoilAddress(5), CoilOn)
	// Function 0x05 echoes the request verbatim on success.
	require.NoError(t, ParseWriteEcho(req, 1, FuncWriteSingleCoil))
}
