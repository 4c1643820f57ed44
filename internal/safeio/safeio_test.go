package safeio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func TestDecodeUTF8(t *testing.T) {
	f, err := Decode([]byte("table Sales\n"))
	require.NoError(t, err)
	assert.Equal(t, UTF8, f.Encoding)
	assert.Equal(t, "table Sales\n", f.Text)
}

func TestDecodeUTF8BOMRoundTrip(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, "table 'Ventes été'\n"...)
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, UTF8BOM, f.Encoding)
	assert.Equal(t, "table 'Ventes été'\n", f.Text)

	out, err := f.Encode(f.Text)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecodeUTF16RoundTrip(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	raw, err := enc.Bytes([]byte("table Sales\n\tcolumn Amount\n"))
	require.NoError(t, err)

	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, UTF16LE, f.Encoding)
	assert.Equal(t, "table Sales\n\tcolumn Amount\n", f.Text)

	out, err := f.Encode(f.Text)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecodeWindows1252Fallback(t *testing.T) {
	// "Café" with é as 0xE9 is not valid UTF-8.
	raw := []byte{'C', 'a', 'f', 0xE9}
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Windows1252, f.Encoding)
	assert.Equal(t, "Café", f.Text)

	out, err := f.Encode("Café Noir")
	require.NoError(t, err)
	assert.Equal(t, []byte{'C', 'a', 'f', 0xE9, ' ', 'N', 'o', 'i', 'r'}, out)
}

func TestDecodeBinaryFails(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x02, 0xFF})
	assert.ErrorIs(t, err, ErrUndecodable)
}
