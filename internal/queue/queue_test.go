package queue

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facecheck/internal/models"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "enrollments.U1", enrollmentSubject("U1"))
	assert.Equal(t, "enrollments.a_b_c", enrollmentSubject("a.b*c"))
	assert.Equal(t, "enrollments._", enrollmentSubject(""))
	assert.Equal(t, "events.attendance_recorded.U1", eventSubject(models.CheckinEvent{
		Type:       models.EventAttendanceRecorded,
		IdentityID: "U1",
	}))
}

func TestStreamConfigsCoverSubjects(t *testing.T) {
	cfgs := streamConfigs()
	require.Len(t, cfgs, 2)
	assert.Equal(t, EnrollmentsStreamName, cfgs[0].Name)
	assert.Equal(t, jetstream.WorkQueuePolicy, cfgs[0].Retention)
	assert.Equal(t, []string{"enrollments.>"}, cfgs[0].Subjects)
	assert.Equal(t, []string{"events.>"}, cfgs[1].Subjects)
}

func TestDecodeTask(t *testing.T) {
	task, err := decodeTask([]byte(`{"task_id":"t1","identity_id":"U1","object_keys":["enrollments/t1/000.jpg"]}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", task.TaskID)
	assert.Len(t, task.ObjectKeys, 1)

	_, err = decodeTask([]byte(`{"task_id":"t1"}`))
	require.Error(t, err)
	_, err = decodeTask([]byte(`not json`))
	require.Error(t, err)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"type":"enrollment_finished","identity_id":"U1","enrollment":{"task_id":"t1","accepted":2}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventEnrollmentFinished, ev.Type)
	require.NotNil(t, ev.Enrollment)
	assert.Equal(t, 2, ev.Enrollment.Accepted)
}

type countingProgress struct {
	calls atomic.Int32
}

func (c *countingProgress) InProgress() error {
	c.calls.Add(1)
	return nil
}

func TestWithProgressExtendsAckWhileRunning(t *testing.T) {
	r := &countingProgress{}
	boom := errors.New("boom")

	err := withProgress(r, 5*time.Millisecond, func() error {
		time.Sleep(60 * time.Millisecond)
		return boom
	})
	require.ErrorIs(t, err, boom)

	calls := r.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(2))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, r.calls.Load())
}

func TestWithProgressFastHandlerSendsNothing(t *testing.T) {
	r := &countingProgress{}
	require.NoError(t, withProgress(r, time.Hour, func() error { return nil }))
	assert.Zero(t, r.calls.Load())
}
