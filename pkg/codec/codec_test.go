package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
)

func sampleFrames(n int) []model.CarFrame {
	ret := make([]model.CarFrame, n)
	for i := 0; i < n; i++ {
		ret[i] = model.CarFrame{
			CarID:         i * 3,
			TrackFraction: float32(i) / float32(n+1),
			Speed:         float32(50 + i),
			Lap:           i % 70,
			Position:      (i % 255) + 1,
		}
	}
	return ret
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 2, 24, 63, 255} {
		frames := sampleFrames(n)
		ts := 1712345678901.5
		buf, err := Encode(ts, frames)
		require.NoError(t, err)
		assert.Len(t, buf, HeaderSize+n*CarRecordSize)

		gotTs, gotFrames, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, ts, gotTs)
		require.Len(t, gotFrames, n)
		if diff := cmp.Diff(frames, gotFrames); diff != "" {
			t.Errorf("frames mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodeLimits(t *testing.T) {
	_, err := Encode(0, sampleFrames(256))
	assert.Error(t, err)

	bad := sampleFrames(1)
	bad[0].CarID = 70000
	_, err = Encode(0, bad)
	assert.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	frames := sampleFrames(5)
	buf, err := Encode(42.0, frames)
	require.NoError(t, err)

	// every truncation length must decode the fully contained records only
	for cut := 0; cut <= len(buf); cut++ {
		short := buf[:cut]
		if cut < HeaderSize {
			_, _, err := Decode(short)
			assert.Error(t, err)
			continue
		}
		ts, got, err := Decode(short)
		require.NoError(t, err)
		assert.Equal(t, 42.0, ts)
		wantRecords := (cut - HeaderSize) / CarRecordSize
		assert.Len(t, got, wantRecords)
	}
}

func TestDecodeCountLargerThanBuffer(t *testing.T) {
	buf, err := Encode(1.0, sampleFrames(2))
	require.NoError(t, err)
	buf[8] = 200 // lie about the car count

	_, got, err := Decode(buf)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
