package audioio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidWAV is returned when a RIFF/WAVE container cannot be parsed.
var ErrInvalidWAV = errors.New("audioio: invalid wav")

const wavFormatPCM = 1

// EncodeWAV wraps the buffer in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(b Buffer) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(b.Data))
	blockAlign := uint16(b.Channels * b.BitDepth / 8)
	byteRate := uint32(b.SampleRate) * uint32(blockAlign)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(b.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(b.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(b.BitDepth))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(b.Data)
	return buf.Bytes()
}

// DecodeWAV reads a PCM RIFF/WAVE stream. Chunks other than "fmt " and
// "data" are skipped.
func DecodeWAV(r io.Reader) (Buffer, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Buffer{}, fmt.Errorf("%w: header: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Buffer{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrInvalidWAV)
	}

	var (
		out     Buffer
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) && haveFmt {
				return Buffer{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
			}
			return Buffer{}, fmt.Errorf("%w: chunk header: %v", ErrInvalidWAV, err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Buffer{}, fmt.Errorf("%w: fmt chunk too small", ErrInvalidWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Buffer{}, fmt.Errorf("%w: fmt chunk: %v", ErrInvalidWAV, err)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != wavFormatPCM {
				return Buffer{}, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, format)
			}
			out.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			out.BitDepth = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Buffer{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			data, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return Buffer{}, fmt.Errorf("%w: data chunk: %v", ErrInvalidWAV, err)
			}
			out.Data = data
			if err := out.Validate(); err != nil {
				return Buffer{}, err
			}
			return out, nil
		default:
			skip := int64(size) + int64(size&1)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Buffer{}, fmt.Errorf("%w: skip %q: %v", ErrInvalidWAV, id, err)
			}
		}
	}
}

// DecodeWAVBytes is DecodeWAV over a byte slice.
func DecodeWAVBytes(data []byte) (Buffer, error) {
	return DecodeWAV(bytes.NewReader(data))
}
