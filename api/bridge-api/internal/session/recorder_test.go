package internal_session

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/ringbridge/api/bridge-api/internal/audio"
	"github.com/ringbridge/pkg/commons"
)

func newTestRecorder(t *testing.T) (*Recorder, *time.Time) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	now := time.Now()
	r := NewRecorder(logger)
	r.clock = func() time.Time { return now }
	return r, &now
}

func pcmOf(samples ...int16) []byte {
	return internal_audio.PCMToBytes(samples)
}

func TestRecorder_EmptyPersistFails(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.Start()
	_, err := r.Persist()
	assert.Error(t, err)
}

func TestRecorder_WAVHeader(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.Start()
	r.RecordCaller(pcmOf(100, 200, 300))

	wav, err := r.Persist()
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(wav), 44)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, "data", string(wav[36:40]))

	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]), "mono")
	assert.Equal(t, uint32(internal_audio.ModelSampleRate), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]), "16-bit")

	dataLen := binary.LittleEndian.Uint32(wav[40:44])
	assert.Equal(t, int(dataLen), len(wav)-44)
	assert.Equal(t, uint32(len(wav)-8), binary.LittleEndian.Uint32(wav[4:8]))
}

func TestRecorder_MixesBothLegs(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.Start()

	// Same instant, same length: samples sum.
	r.RecordCaller(pcmOf(1000, -2000))
	r.RecordAssistant(pcmOf(500, 500))

	wav, err := r.Persist()
	require.NoError(t, err)

	data := wav[44:]
	require.Len(t, data, 4)
	assert.Equal(t, int16(1500), int16(binary.LittleEndian.Uint16(data[0:2])))
	assert.Equal(t, int16(-1500), int16(binary.LittleEndian.Uint16(data[2:4])))
}

func TestRecorder_MixClips(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.Start()

	r.RecordCaller(pcmOf(30000))
	r.RecordAssistant(pcmOf(30000))

	wav, err := r.Persist()
	require.NoError(t, err)

	data := wav[44:]
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(data[0:2])))
}

func TestRecorder_AssistantBurstsArePaced(t *testing.T) {
	r, now := newTestRecorder(t)
	r.Start()

	// Two chunks arriving in the same instant must land back to back, not on
	// top of each other.
	r.RecordAssistant(pcmOf(111, 111))
	r.RecordAssistant(pcmOf(222, 222))

	wav, err := r.Persist()
	require.NoError(t, err)

	data := wav[44:]
	require.Len(t, data, 8)
	assert.Equal(t, int16(111), int16(binary.LittleEndian.Uint16(data[0:2])))
	assert.Equal(t, int16(222), int16(binary.LittleEndian.Uint16(data[4:6])))

	_ = now
}

func TestRecorder_SilenceGapBetweenUtterances(t *testing.T) {
	r, now := newTestRecorder(t)
	r.Start()

	r.RecordCaller(pcmOf(999))

	// One second later: one second of silence must separate the chunks.
	*now = now.Add(time.Second)
	r.RecordCaller(pcmOf(888))

	wav, err := r.Persist()
	require.NoError(t, err)

	data := wav[44:]
	secondOffset := internal_audio.ModelSampleRate * recorderBytesPerSample
	require.Len(t, data, secondOffset+2)
	assert.Equal(t, int16(999), int16(binary.LittleEndian.Uint16(data[0:2])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(data[2:4])), "gap is silence")
	assert.Equal(t, int16(888), int16(binary.LittleEndian.Uint16(data[secondOffset:])))
}
