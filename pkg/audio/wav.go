package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header produced by
// EncodeWAV: RIFF chunk descriptor, one "fmt " subchunk, one "data" subchunk.
const WAVHeaderSize = 44

// ErrNotWAV is returned by DecodeWAV when the input is not a RIFF/WAVE stream.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// EncodeWAV wraps raw 16-bit PCM in a minimal 44-byte RIFF/WAVE container.
// Every header field is computed from the payload and format; nothing is
// hardcoded beyond the PCM tag and the 16-bit depth.
func EncodeWAV(pcm []byte, format Format) []byte {
	w := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))

	dataLen := uint32(len(pcm))
	byteRate := uint32(format.BytesPerSecond())
	blockAlign := uint16(format.BytesPerFrame())

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, 36+dataLen)
	w.WriteString("WAVE")
	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(format.Channels))
	binary.Write(w, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(w, binary.LittleEndian, byteRate)
	binary.Write(w, binary.LittleEndian, blockAlign)
	binary.Write(w, binary.LittleEndian, uint16(16)) // bits per sample
	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, dataLen)
	w.Write(pcm)
	return w.Bytes()
}

// WriteWAVFile writes pcm to path as a WAV file, creating parent-relative
// files with 0644 permissions.
func WriteWAVFile(path string, pcm []byte, format Format) error {
	if err := os.WriteFile(path, EncodeWAV(pcm, format), 0o644); err != nil {
		return fmt.Errorf("write wav %s: %w", path, err)
	}
	return nil
}

// DecodeWAV extracts the PCM payload and format from a RIFF/WAVE stream.
// Subchunks other than "fmt " and "data" (LIST, fact, cue) are skipped, so
// files produced by other encoders decode as long as they carry 16-bit PCM.
func DecodeWAV(wav []byte) (pcm []byte, format Format, err error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var haveFmt, haveData bool
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(wav) {
			return nil, Format{}, fmt.Errorf("audio: truncated %q subchunk", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("audio: fmt subchunk too short: %d bytes", size)
			}
			tag := binary.LittleEndian.Uint16(wav[body : body+2])
			if tag != 1 {
				return nil, Format{}, fmt.Errorf("audio: unsupported format tag %d, want PCM", tag)
			}
			bits := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported bit depth %d, want 16", bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			haveFmt = true
		case "data":
			pcm = wav[body : body+size]
			haveData = true
		}
		// Subchunks are word-aligned; odd sizes carry a pad byte.
		off = body + size + size%2
	}

	if !haveFmt || !haveData {
		return nil, Format{}, fmt.Errorf("audio: missing subchunk (fmt=%v data=%v): %w", haveFmt, haveData, ErrNotWAV)
	}
	return pcm, format, nil
}
