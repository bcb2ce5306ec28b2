package internal_session

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/ringbridge/api/bridge-api/internal/audio"
	"github.com/ringbridge/pkg/commons"
)

const (
	recorderBytesPerSample = 2
	recorderBitsPerSample  = 16
	wavPCMFormat           = 1

	trackCaller    = 0
	trackAssistant = 1
)

// recordedChunk is an audio fragment placed at a byte position on the shared
// session timeline.
type recordedChunk struct {
	byteOffset int
	data       []byte
	track      int
}

// Recorder captures both legs of a call at the model rate (24 kHz mono) and
// renders one mixed WAV. Caller audio is placed by wall clock since it arrives
// at real-time rate; assistant audio arrives in bursts and is paced at the
// playback rate, anchored to wall clock only at the start of each burst.
// Recording failures never fail the call.
type Recorder struct {
	logger commons.Logger

	mu        sync.Mutex
	startTime time.Time
	started   bool
	chunks    []recordedChunk
	cursor    [2]int

	clock func() time.Time
}

func NewRecorder(logger commons.Logger) *Recorder {
	return &Recorder{logger: logger, clock: time.Now}
}

// Start anchors the timeline. Both tracks share it.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
}

func recorderBytesPerSecond() int {
	return internal_audio.ModelSampleRate * recorderBytesPerSample
}

// durationBytes converts wall-clock time into a sample-aligned byte count.
func durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(recorderBytesPerSecond()))
	return (raw / recorderBytesPerSample) * recorderBytesPerSample
}

// RecordCaller places caller audio (PCM16 24 kHz bytes) at the current
// wall-clock position.
func (r *Recorder) RecordCaller(pcm []byte) {
	r.push(pcm, trackCaller)
}

// RecordAssistant places assistant audio, pacing bursts at playback rate.
func (r *Recorder) RecordAssistant(pcm []byte) {
	r.push(pcm, trackAssistant)
}

func (r *Recorder) push(data []byte, track int) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wallOffset := 0
	if r.started {
		wallOffset = durationBytes(r.clock().Sub(r.startTime))
	}

	var offset int
	switch track {
	case trackCaller:
		offset = wallOffset
		if r.cursor[track] > offset {
			offset = r.cursor[track]
		}
	case trackAssistant:
		if r.cursor[track] > wallOffset {
			offset = r.cursor[track]
		} else {
			offset = wallOffset
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	r.chunks = append(r.chunks, recordedChunk{byteOffset: offset, data: buf, track: track})
	r.cursor[track] = offset + len(buf)
}

// Persist renders the mixed recording. Both tracks are painted onto silence
// at their timeline positions, then summed with clipping.
func (r *Recorder) Persist() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.chunks) == 0 {
		return nil, fmt.Errorf("no audio recorded")
	}

	totalLen := 0
	if r.started {
		totalLen = durationBytes(r.clock().Sub(r.startTime))
	}
	for _, c := range r.chunks {
		if end := c.byteOffset + len(c.data); end > totalLen {
			totalLen = end
		}
	}

	callerPCM := make([]byte, totalLen)
	assistantPCM := make([]byte, totalLen)
	for _, c := range r.chunks {
		dst := callerPCM
		if c.track == trackAssistant {
			dst = assistantPCM
		}
		copy(dst[c.byteOffset:], c.data)
	}

	mixed := mixPCM(callerPCM, assistantPCM)
	r.logger.Info(fmt.Sprintf(
		"Recording persist: duration=%.2fs chunks=%d",
		float64(totalLen)/float64(recorderBytesPerSecond()), len(r.chunks),
	))
	return renderWAV(mixed), nil
}

// mixPCM sums two equal-length PCM16 byte streams with clipping.
func mixPCM(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := 0; i+1 < len(a); i += 2 {
		sa := int32(int16(binary.LittleEndian.Uint16(a[i:])))
		sb := int32(int16(binary.LittleEndian.Uint16(b[i:])))
		sum := sa + sb
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(sum)))
	}
	return out
}

func renderWAV(pcmData []byte) []byte {
	var buf bytes.Buffer
	byteRate := recorderBytesPerSecond()

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(internal_audio.ModelSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(recorderBytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(recorderBitsPerSample))

	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}
