package stt

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is decoded PCM audio ready to send to a backend.
type Clip struct {
	Buffer   *audio.IntBuffer
	Language string // BCP-47 tag, e.g. "en-US"
}

// SampleRate of the clip in Hz.
func (c Clip) SampleRate() int {
	if c.Buffer == nil || c.Buffer.Format == nil {
		return 0
	}
	return c.Buffer.Format.SampleRate
}

// Channels in the clip.
func (c Clip) Channels() int {
	if c.Buffer == nil || c.Buffer.Format == nil || c.Buffer.Format.NumChannels == 0 {
		return 1
	}
	return c.Buffer.Format.NumChannels
}

// Empty reports whether there is no audio left to transcribe.
func (c Clip) Empty() bool {
	return c.Buffer == nil || len(c.Buffer.Data) == 0
}

// pcm16 scales the clip's samples to signed 16-bit range, clamping overshoot.
func (c Clip) pcm16() []int {
	scale := sampleScale(c.Buffer.SourceBitDepth)
	out := make([]int, len(c.Buffer.Data))
	for i, s := range c.Buffer.Data {
		v := float64(s) * scale
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int(v)
	}
	return out
}

// LINEAR16 renders the clip as raw little-endian signed 16-bit PCM.
func (c Clip) LINEAR16() []byte {
	if c.Empty() {
		return nil
	}
	samples := c.pcm16()
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// WAV renders the clip as a 16-bit PCM WAV file in memory.
func (c Clip) WAV() ([]byte, error) {
	if c.Empty() {
		return nil, errors.New("empty clip")
	}
	samples := c.pcm16()
	var ws writeSeeker
	enc := wav.NewEncoder(&ws, c.SampleRate(), 16, c.Channels(), 1)
	buf := &audio.IntBuffer{Format: c.Buffer.Format, Data: samples, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// decodeWAV reads a PCM WAV file fully into memory.
func decodeWAV(path string) (*audio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, errors.New("not a PCM wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf.SourceBitDepth == 0 {
		buf.SourceBitDepth = int(d.BitDepth)
	}
	return buf, nil
}

// writeSeeker is the in-memory io.WriteSeeker the wav encoder needs to patch its header.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		w.buf = append(w.buf, make([]byte, need-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
