package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotWAV            = errors.New("not a RIFF/WAVE payload")
	ErrUnsupportedFormat = errors.New("unsupported WAV encoding")
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVDecoder decodes RIFF/WAVE payloads carrying 16-bit PCM, which is what
// the brain's TTS emits.
type WAVDecoder struct{}

// Decode implements Decoder.
func (WAVDecoder) Decode(data []byte) (Segment, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return Segment{}, ErrNotWAV
	}

	var (
		format    Format
		haveFmt   bool
		pcm       []byte
		haveData  bool
		offset    = 12
		bitsPer   uint16
		audioType uint16
	)

	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if size < 0 || end > len(data) {
			// Streaming encoders write a placeholder size for the data chunk.
			if id == "data" {
				end = len(data)
			} else {
				return Segment{}, fmt.Errorf("truncated %q chunk", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Segment{}, fmt.Errorf("fmt chunk too short: %d", size)
			}
			audioType = binary.LittleEndian.Uint16(data[body : body+2])
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPer = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			pcm = data[body:end]
			haveData = true
		}

		offset = end
		if size%2 == 1 {
			offset++
		}
		if haveFmt && haveData {
			break
		}
	}

	if !haveFmt || !haveData {
		return Segment{}, ErrNotWAV
	}
	if (audioType != wavFormatPCM && audioType != wavFormatExtensible) || bitsPer != 16 {
		return Segment{}, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedFormat, audioType, bitsPer)
	}
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return Segment{}, fmt.Errorf("%w: channels=%d rate=%d", ErrUnsupportedFormat, format.Channels, format.SampleRate)
	}

	frame := format.Channels * 2
	if n := len(pcm) - len(pcm)%frame; n != len(pcm) {
		pcm = pcm[:n]
	}
	return Segment{Format: format, PCM: append([]byte(nil), pcm...)}, nil
}

// EncodeWAV wraps 16-bit PCM in a minimal RIFF/WAVE container.
func EncodeWAV(seg Segment) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(seg.PCM))
	blockAlign := uint16(seg.Format.Channels * 2)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(seg.Format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(seg.Format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(seg.Format.BytesPerSecond()))
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(seg.PCM)
	return buf.Bytes()
}
