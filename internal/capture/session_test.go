package capture

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoSportVisionKit/internal/media"
	"GoSportVisionKit/internal/sampler"
)

func newLiveSession(t *testing.T) *Session {
	t.Helper()

	acquirer := media.NewAcquirer(nil, media.WithProviderFactory(
		func(config *media.CameraConfig) media.FrameProvider {
			return media.NewSyntheticProvider(time.Millisecond)
		}))

	source, err := acquirer.AcquireLive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { source.Release() })

	return NewSession(source)
}

func frameAt(index int, at time.Duration) sampler.Frame {
	return sampler.Frame{Index: index, Timestamp: at, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
}

// TestSessionAppendOrdering 时间戳必须非递减
func TestSessionAppendOrdering(t *testing.T) {
	session := newLiveSession(t)

	require.NoError(t, session.AppendFrame(frameAt(0, 0)))
	require.NoError(t, session.AppendFrame(frameAt(1, 500*time.Millisecond)))
	require.NoError(t, session.AppendFrame(frameAt(2, 500*time.Millisecond))) // 相等允许

	err := session.AppendFrame(frameAt(3, 100*time.Millisecond))
	assert.ErrorIs(t, err, ErrFrameOutOfOrder)
	assert.Equal(t, 3, session.FrameCount())
}

// TestSessionFinalizedRejectsAppend 定格后不再累积
func TestSessionFinalizedRejectsAppend(t *testing.T) {
	session := newLiveSession(t)

	require.NoError(t, session.AppendFrame(frameAt(0, 0)))
	session.Finalize()
	assert.True(t, session.Finalized())

	err := session.AppendFrame(frameAt(1, time.Second))
	assert.ErrorIs(t, err, ErrSessionFinalized)
}

// TestSessionConsumedOnce 帧序列只能被取走一次
func TestSessionConsumedOnce(t *testing.T) {
	session := newLiveSession(t)

	require.NoError(t, session.AppendFrame(frameAt(0, 0)))
	require.NoError(t, session.AppendFrame(frameAt(1, time.Second)))

	frames, err := session.TakeFrames()
	require.NoError(t, err)
	assert.Len(t, frames, 2)
	assert.True(t, session.Finalized())

	_, err = session.TakeFrames()
	assert.ErrorIs(t, err, ErrSessionConsumed)
}

// TestSessionPolicyByMode 策略随源模式选择
func TestSessionPolicyByMode(t *testing.T) {
	session := newLiveSession(t)
	assert.Equal(t, media.ModeLive, session.Mode)
	assert.Equal(t, sampler.LiveFrameCount, session.Policy.MaxFrames)
	assert.NotEmpty(t, session.ID)
}

// TestRecorderEventOrdering 事件按记录顺序排列并可导出
func TestRecorderEventOrdering(t *testing.T) {
	recorder := NewRecorder("session-1")

	recorder.RecordEvent(EventAcquire, map[string]interface{}{"mode": "live"})
	recorder.RecordEvent(EventFrame, map[string]interface{}{"index": 0})
	recorder.RecordEvent(EventFrame, map[string]interface{}{"index": 1})
	recorder.RecordError(errors.New("boom"), nil)
	recorder.Stop()

	// 停止后不再记录
	recorder.RecordEvent(EventRelease, nil)

	events := recorder.Events()
	require.Len(t, events, 4)
	assert.Equal(t, EventAcquire, events[0].Type)
	assert.Equal(t, EventError, events[3].Type)

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}

	stats := recorder.Stats()
	assert.Equal(t, int64(4), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.FramesCaptured)
	assert.Equal(t, int64(1), stats.ErrorCount)

	data, err := recorder.ExportJSON()
	require.NoError(t, err)

	var log SessionLog
	require.NoError(t, json.Unmarshal(data, &log))
	assert.Equal(t, "session-1", log.SessionID)
	assert.Len(t, log.Events, 4)
}

// TestUserMessageMapping 各类错误映射为用户提示语，不泄露内部细节
func TestUserMessageMapping(t *testing.T) {
	cases := []struct {
		err      error
		contains string
	}{
		{&media.MediaAccessError{Device: "/dev/video0", Err: errors.New("denied")}, "Camera"},
		{&media.InvalidInputError{Filename: "a.txt"}, "not a video"},
		{&media.NoSourceError{}, "No video source"},
		{context.Canceled, "cancelled"},
		{errors.New("internal detail"), "try again"},
	}

	for _, tc := range cases {
		msg := UserMessage(tc.err)
		assert.Contains(t, msg, tc.contains)
		assert.NotContains(t, msg, "internal detail")
	}

	assert.Empty(t, UserMessage(nil))
}
