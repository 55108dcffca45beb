package ingress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslane/feedbackpilot/pkg/clock"
	"github.com/opslane/feedbackpilot/pkg/events"
	"github.com/opslane/feedbackpilot/pkg/models"
)

type fakeStore struct {
	mu      sync.Mutex
	created []*models.Feedback
}

func (f *fakeStore) CreateFeedback(fb *models.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, fb)
	return nil
}

type fakePipeline struct {
	mu    sync.Mutex
	calls []*models.Feedback
}

func (p *fakePipeline) Execute(ctx context.Context, feedback *models.Feedback, bus *events.Bus) {
	p.mu.Lock()
	p.calls = append(p.calls, feedback)
	p.mu.Unlock()
	bus.Emit(events.KindConnected, nil)
	bus.Emit(events.KindComplete, map[string]bool{"needs_human": false})
	bus.Emit(events.KindDone, nil)
	bus.Close()
}

func newTestIngress() (*Ingress, *fakeStore, *fakePipeline) {
	st := &fakeStore{}
	pl := &fakePipeline{}
	return New(st, pl, clock.NewReal(), clock.NewUUIDSource()), st, pl
}

func TestSubmit_EmptyContentIsRejected(t *testing.T) {
	in, st, _ := newTestIngress()

	_, err := in.Submit(context.Background(), "   ", "u1", "en")
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, st.created)
}

func TestSubmit_TruncatesOverlongContent(t *testing.T) {
	in, st, _ := newTestIngress()

	long := make([]byte, models.MaxFeedbackContentLength+50)
	for i := range long {
		long[i] = 'a'
	}
	sub, err := in.Submit(context.Background(), string(long), "u1", "en")
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, st.created, 1)
	assert.Len(t, st.created[0].Content, models.MaxFeedbackContentLength)
}

func TestSubmit_LaunchesPipelineAndStreamsEvents(t *testing.T) {
	in, _, pl := newTestIngress()

	sub, err := in.Submit(context.Background(), "translation is wrong", "u1", "en")
	require.NoError(t, err)
	defer sub.Close()

	var kinds []events.Kind
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case ev, ok := <-sub.Stream:
			if !ok {
				break drain
			}
			kinds = append(kinds, ev.Kind)
			if ev.Kind == events.KindDone {
				break drain
			}
		case <-timeout:
			t.Fatal("timed out waiting for pipeline events")
		}
	}
	assert.Equal(t, []events.Kind{events.KindConnected, events.KindComplete, events.KindDone}, kinds)
	assert.Len(t, pl.calls, 1)
}
