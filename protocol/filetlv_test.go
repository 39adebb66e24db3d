package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePacketRoundTrip(t *testing.T) {
	f := &FilePacket{
		FileName: "photo.jpg",
		FileSize: 3,
		MimeType: "image/jpeg",
		Content:  []byte{1, 2, 3},
	}

	data, err := f.Serialize()
	require.NoError(t, err)

	decoded, err := ParseFilePacket(data)
	require.NoError(t, err)
	assert.Equal(t, f, decoded)

	// Round-trip is idempotent.
	again, err := decoded.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestFilePacketDefaults(t *testing.T) {
	// Encode only a CONTENT TLV by hand: name, size and mime are absent.
	content := []byte{1, 2, 3}
	data := []byte{0x04}
	data = binary.BigEndian.AppendUint32(data, uint32(len(content)))
	data = append(data, content...)

	decoded, err := ParseFilePacket(data)
	require.NoError(t, err)
	assert.Equal(t, DefaultFileName, decoded.FileName)
	assert.Equal(t, DefaultMimeType, decoded.MimeType)
	assert.Equal(t, uint32(3), decoded.FileSize)
	assert.Equal(t, content, decoded.Content)
}

func TestFilePacketDefaultMimeOnDecode(t *testing.T) {
	// Name present, mime absent.
	data := []byte{0x01, 0x00, 0x01, 'x'}
	data = append(data, 0x04)
	data = binary.BigEndian.AppendUint32(data, 3)
	data = append(data, 1, 2, 3)

	decoded, err := ParseFilePacket(data)
	require.NoError(t, err)
	assert.Equal(t, "x", decoded.FileName)
	assert.Equal(t, DefaultMimeType, decoded.MimeType)
	assert.Equal(t, uint32(3), decoded.FileSize)
}

func TestFilePacketReorderedTLVs(t *testing.T) {
	// CONTENT first, then MIME, then NAME.
	data := []byte{0x04}
	data = binary.BigEndian.AppendUint32(data, 2)
	data = append(data, 0xca, 0xfe)
	data = append(data, 0x03, 0x00, 0x0a)
	data = append(data, "text/plain"...)
	data = append(data, 0x01, 0x00, 0x05)
	data = append(data, "notes"...)

	decoded, err := ParseFilePacket(data)
	require.NoError(t, err)
	assert.Equal(t, "notes", decoded.FileName)
	assert.Equal(t, "text/plain", decoded.MimeType)
	assert.Equal(t, []byte{0xca, 0xfe}, decoded.Content)
}

func TestFilePacketConcatenatesContent(t *testing.T) {
	data := []byte{0x04}
	data = binary.BigEndian.AppendUint32(data, 2)
	data = append(data, 1, 2)
	data = append(data, 0x04)
	data = binary.BigEndian.AppendUint32(data, 2)
	data = append(data, 3, 4)

	decoded, err := ParseFilePacket(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, decoded.Content)
	assert.Equal(t, uint32(4), decoded.FileSize)
}

func TestFilePacketMalformed(t *testing.T) {
	cases := map[string][]byte{
		"unknown type": {0x7f, 0x00, 0x00},
		"truncated length": {0x01, 0x00},
		"length off buffer": {0x01, 0x00, 0x10, 'a'},
		"content length off buffer": {0x04, 0x00, 0x00, 0x00, 0x05, 1, 2},
		"bad file size width": {0x02, 0x00, 0x02, 0x00, 0x01},
		"empty stream": {},
	}
	for name, data := range cases {
		_, err := ParseFilePacket(data)
		assert.ErrorIs(t, err, ErrMalformedPacket, name)
	}
}

func TestFilePacketEmptyContentRejected(t *testing.T) {
	// A zero-length CONTENT TLV decodes to no content at all.
	data := []byte{0x04, 0x00, 0x00, 0x00, 0x00}
	_, err := ParseFilePacket(data)
	assert.ErrorIs(t, err, ErrMalformedPacket)

	f := &FilePacket{FileName: "x"}
	_, err = f.Serialize()
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestFilePacketNameTruncation(t *testing.T) {
	long := make([]byte, 70000)
	for i := range long {
		long[i] = 'a'
	}
	f := &FilePacket{FileName: string(long), Content: []byte{1}}

	data, err := f.Serialize()
	require.NoError(t, err)

	decoded, err := ParseFilePacket(data)
	require.NoError(t, err)
	assert.Len(t, decoded.FileName, 65535)
}

func TestFilePacketSizeDefaultsToContentLength(t *testing.T) {
	f := &FilePacket{Content: []byte{9, 9, 9, 9}}
	data, err := f.Serialize()
	require.NoError(t, err)

	decoded, err := ParseFilePacket(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), decoded.FileSize)
}
