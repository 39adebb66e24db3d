package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/bitmesh/limits"
)

// File payload TLV types.
const (
	fileTLVName    byte = 0x01
	fileTLVSize    byte = 0x02
	fileTLVMime    byte = 0x03
	fileTLVContent byte = 0x04
)

// Defaults substituted when optional TLVs are absent on decode.
const (
	DefaultFileName = "file"
	DefaultMimeType = "application/octet-stream"
)

// FilePacket is the decoded form of a file-transfer payload.
//
// The total encoded payload never exceeds 1 MiB; images and voice notes
// share this ceiling.
type FilePacket struct {
	FileName string
	FileSize uint32
	MimeType string
	Content  []byte
}

// Serialize encodes the file packet as a TLV stream.
//
// FILE_NAME, FILE_SIZE and MIME_TYPE use a 2-byte big-endian length;
// CONTENT uses a 4-byte big-endian length. FILE_NAME and MIME_TYPE are
// silently truncated to 65535 bytes. A FileSize of zero encodes the
// content length.
func (f *FilePacket) Serialize() ([]byte, error) {
	if len(f.Content) == 0 {
		return nil, fmt.Errorf("%w: empty file content", ErrMalformedPacket)
	}

	name := f.FileName
	if len(name) > limits.MaxTLVString {
		name = name[:limits.MaxTLVString]
	}
	mime := f.MimeType
	if len(mime) > limits.MaxTLVString {
		mime = mime[:limits.MaxTLVString]
	}
	size := f.FileSize
	if size == 0 {
		size = uint32(len(f.Content))
	}

	total := (3 + len(name)) + (3 + 4) + (3 + len(mime)) + (5 + len(f.Content))
	if total > limits.MaxPayload {
		return nil, fmt.Errorf("%w: encoded file payload %d exceeds %d", ErrPayloadTooLarge, total, limits.MaxPayload)
	}

	buf := make([]byte, 0, total)

	buf = append(buf, fileTLVName)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(name)))
	buf = append(buf, name...)

	buf = append(buf, fileTLVSize)
	buf = binary.BigEndian.AppendUint16(buf, 4)
	buf = binary.BigEndian.AppendUint32(buf, size)

	buf = append(buf, fileTLVMime)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(mime)))
	buf = append(buf, mime...)

	buf = append(buf, fileTLVContent)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Content)))
	buf = append(buf, f.Content...)

	return buf, nil
}

// ParseFilePacket decodes a TLV stream into a FilePacket.
//
// The decoder tolerates TLV reordering and missing optional fields:
// FILE_NAME defaults to "file", MIME_TYPE to "application/octet-stream"
// and FILE_SIZE to the content length. Multiple CONTENT TLVs are
// concatenated. Unknown type bytes, lengths that run off the buffer, a
// FILE_SIZE value that is not exactly 4 bytes, and empty content all fail
// with ErrMalformedPacket.
func ParseFilePacket(data []byte) (*FilePacket, error) {
	if len(data) > limits.MaxPayload {
		return nil, fmt.Errorf("%w: file payload %d exceeds %d", ErrPayloadTooLarge, len(data), limits.MaxPayload)
	}

	f := &FilePacket{}
	var haveName, haveMime, haveSize bool

	off := 0
	for off < len(data) {
		typ := data[off]
		off++

		switch typ {
		case fileTLVName, fileTLVSize, fileTLVMime:
			if len(data) < off+2 {
				return nil, fmt.Errorf("%w: truncated TLV length", ErrMalformedPacket)
			}
			length := int(binary.BigEndian.Uint16(data[off : off+2]))
			off += 2
			if len(data) < off+length {
				return nil, fmt.Errorf("%w: TLV length %d runs off buffer", ErrMalformedPacket, length)
			}
			value := data[off : off+length]
			off += length

			switch typ {
			case fileTLVName:
				f.FileName = string(value)
				haveName = true
			case fileTLVMime:
				f.MimeType = string(value)
				haveMime = true
			case fileTLVSize:
				if length != 4 {
					return nil, fmt.Errorf("%w: FILE_SIZE value is %d bytes, want 4", ErrMalformedPacket, length)
				}
				f.FileSize = binary.BigEndian.Uint32(value)
				haveSize = true
			}

		case fileTLVContent:
			if len(data) < off+4 {
				return nil, fmt.Errorf("%w: truncated CONTENT length", ErrMalformedPacket)
			}
			length := int(binary.BigEndian.Uint32(data[off : off+4]))
			off += 4
			if len(data) < off+length {
				return nil, fmt.Errorf("%w: CONTENT length %d runs off buffer", ErrMalformedPacket, length)
			}
			f.Content = append(f.Content, data[off:off+length]...)
			off += length

		default:
			return nil, fmt.Errorf("%w: unknown file TLV type 0x%02x", ErrMalformedPacket, typ)
		}
	}

	if len(f.Content) == 0 {
		return nil, fmt.Errorf("%w: file payload has no content", ErrMalformedPacket)
	}
	if !haveName {
		f.FileName = DefaultFileName
	}
	if !haveMime {
		f.MimeType = DefaultMimeType
	}
	if !haveSize {
		f.FileSize = uint32(len(f.Content))
	}

	return f, nil
}
