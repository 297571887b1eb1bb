package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// SampleRate is the normalized playback rendition rate.
const SampleRate = 16000

const bitsPerSample = 16

// ErrUnsupportedWAV reports a RIFF file that is not 16-bit PCM.
var ErrUnsupportedWAV = errors.New("unsupported wav encoding")

// WAV is a decoded 16-bit PCM rendition.
type WAV struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// DurationMS returns the rendition length in milliseconds.
func (w WAV) DurationMS() int64 {
	if w.SampleRate <= 0 || w.Channels <= 0 {
		return 0
	}
	frames := int64(len(w.Samples) / w.Channels)
	return frames * 1000 / int64(w.SampleRate)
}

// Mono averages interleaved frames into one channel.
func (w WAV) Mono() []int16 {
	if w.Channels <= 1 {
		return w.Samples
	}
	frames := len(w.Samples) / w.Channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < w.Channels; c++ {
			sum += int(w.Samples[i*w.Channels+c])
		}
		out[i] = int16(sum / w.Channels)
	}
	return out
}

// ReadWAV decodes a 16-bit PCM WAV file.
func ReadWAV(path string) (WAV, error) {
	file, err := os.Open(path)
	if err != nil {
		return WAV{}, fmt.Errorf("open wav %q: %w", path, err)
	}
	defer file.Close()

	wav, err := DecodeWAV(file)
	if err != nil {
		return WAV{}, fmt.Errorf("decode wav %q: %w", path, err)
	}
	return wav, nil
}

// DecodeWAV walks RIFF chunks until it has both fmt and data.
func DecodeWAV(r io.Reader) (WAV, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return WAV{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAV{}, fmt.Errorf("%w: missing RIFF/WAVE tag", ErrUnsupportedWAV)
	}

	var (
		out     WAV
		haveFmt bool
	)
	chunk := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, chunk); err != nil {
			return WAV{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAV{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if size < 16 {
				return WAV{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return WAV{}, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, format)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != bitsPerSample {
				return WAV{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, bits)
			}
			out.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
			if size%2 == 1 {
				_, _ = io.CopyN(io.Discard, r, 1)
			}
		case "data":
			if !haveFmt {
				return WAV{}, fmt.Errorf("%w: data before fmt", ErrUnsupportedWAV)
			}
			body := make([]byte, size)
			n, err := io.ReadFull(r, body)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return WAV{}, fmt.Errorf("read data chunk: %w", err)
			}
			body = body[:n-n%2]
			out.Samples = make([]int16, len(body)/2)
			for i := range out.Samples {
				out.Samples[i] = int16(binary.LittleEndian.Uint16(body[i*2:]))
			}
			return out, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return WAV{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// WriteWAV writes samples as a canonical 44-byte-header PCM WAV.
func WriteWAV(w io.Writer, samples []int16, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)
	dataSize := len(samples) * 2

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := w.Write(header); err != nil {
		return err
	}
	data := make([]byte, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	_, err := w.Write(data)
	return err
}
