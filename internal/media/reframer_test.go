package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReframer_BuffersUntilFrameSize(t *testing.T) {
	r := NewReframer(4, 1)
	frames := r.Push([]int16{1, 2})
	assert.Empty(t, frames)
}

func TestReframer_EmitsCompleteFrames(t *testing.T) {
	r := NewReframer(4, 1)
	frames := r.Push([]int16{1, 2, 3, 4, 5, 6})
	assert.Len(t, frames, 1)
	assert.Equal(t, []int16{1, 2, 3, 4}, frames[0])
}

func TestReframer_CarriesTailAcrossPushes(t *testing.T) {
	r := NewReframer(4, 1)
	r.Push([]int16{1, 2, 3})
	frames := r.Push([]int16{4, 5, 6})
	assert.Len(t, frames, 1)
	assert.Equal(t, []int16{1, 2, 3, 4}, frames[0])
}

func TestReframer_FlushPadsPartialTail(t *testing.T) {
	r := NewReframer(4, 1)
	r.Push([]int16{1, 2})
	tail := r.Flush()
	assert.Equal(t, []int16{1, 2, 0, 0}, tail)
}

func TestReframer_FlushEmptyReturnsNil(t *testing.T) {
	r := NewReframer(4, 1)
	assert.Nil(t, r.Flush())
}

func TestReframer_ResetDropsTailSilently(t *testing.T) {
	r := NewReframer(4, 1)
	r.Push([]int16{1, 2})
	r.Reset()
	assert.Nil(t, r.Flush())
}

func TestDownmixStereoToMono_Averages(t *testing.T) {
	out := DownmixStereoToMono([]int16{10, 20, 30, 40})
	assert.Equal(t, []int16{15, 35}, out)
}

func TestUpmixMonoToStereo_Duplicates(t *testing.T) {
	out := UpmixMonoToStereo([]int16{5, 7})
	assert.Equal(t, []int16{5, 5, 7, 7}, out)
}
