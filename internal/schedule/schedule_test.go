package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/engine/internal/dispatcher"
	"github.com/reviewforge/engine/internal/model"
)

type fakeScheduleSource struct {
	triggers []ScheduledTrigger
}

func (f *fakeScheduleSource) ScheduleTriggers(_ context.Context) ([]ScheduledTrigger, error) {
	return f.triggers, nil
}

type fakeDispatch struct {
	mu    sync.Mutex
	calls []dispatcher.Envelope
}

func (f *fakeDispatch) Dispatch(_ context.Context, _ model.TriggerType, env dispatcher.Envelope) ([]model.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, env)
	return []model.ID{model.MustNewID()}, nil
}

func (f *fakeDispatch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestScheduler_FiresRegisteredTriggerOnTick(t *testing.T) {
	t.Run("Should dispatch a schedule trigger once its cron entry ticks", func(t *testing.T) {
		trig := ScheduledTrigger{TriggerID: model.MustNewID(), WorkflowID: model.MustNewID(), CronSpec: "@every 50ms"}
		source := &fakeScheduleSource{triggers: []ScheduledTrigger{trig}}
		disp := &fakeDispatch{}
		s := New(source, disp)

		require.NoError(t, s.Start(t.Context()))
		defer s.Stop()

		require.Eventually(t, func() bool {
			return disp.callCount() >= 1
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestScheduler_SkipsInvalidCronSpec(t *testing.T) {
	t.Run("Should skip a trigger with an unparseable cron spec without failing Start", func(t *testing.T) {
		trig := ScheduledTrigger{TriggerID: model.MustNewID(), WorkflowID: model.MustNewID(), CronSpec: "not a cron spec"}
		source := &fakeScheduleSource{triggers: []ScheduledTrigger{trig}}
		disp := &fakeDispatch{}
		s := New(source, disp)

		err := s.Start(t.Context())

		require.NoError(t, err)
		s.Stop()
		assert.Equal(t, 0, disp.callCount())
	})
}
