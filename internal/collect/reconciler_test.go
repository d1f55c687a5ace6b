package collect

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"medigate/internal/provider"
	"medigate/pkg/domain"
)

// fakeSubscription feeds scripted frames through the push channel.
type fakeSubscription struct {
	frames chan provider.PushFrame
	once   sync.Once
}

func (f *fakeSubscription) Frames() <-chan provider.PushFrame { return f.frames }
func (f *fakeSubscription) Close()                            { f.once.Do(func() { close(f.frames) }) }

// fakeSource scripts both physical channels.
type fakeSource struct {
	mu           sync.Mutex
	status       provider.StatusResponse
	statusErr    error
	sub          *fakeSubscription
	subscribeErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		sub:    &fakeSubscription{frames: make(chan provider.PushFrame, 16)},
		status: provider.StatusResponse{Status: "collecting"},
	}
}

func (f *fakeSource) Status(context.Context, string) (provider.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeSource) Subscribe(context.Context, string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.sub, nil
}

func (f *fakeSource) setStatus(resp provider.StatusResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = resp
}

func (f *fakeSource) pushFrame(frame provider.PushFrame) {
	f.sub.frames <- frame
}

func completedStatus(subject string, checkups int) provider.StatusResponse {
	resp := provider.StatusResponse{
		Status:      "completed",
		PatientUUID: subject,
		HospitalID:  "H1",
		UserName:    "홍길동",
		HealthData:  &provider.HealthData{},
	}
	for i := 0; i < checkups; i++ {
		resp.HealthData.ResultList = append(resp.HealthData.ResultList, provider.CheckupResult{Date: "2025-01-01"})
	}
	return resp
}

// ReconcilerSuite covers the cross-channel contract: at-most-once completion,
// single pending-approval notice, hard ceiling, idempotent stop.
type ReconcilerSuite struct {
	suite.Suite
	source *fakeSource
}

func (s *ReconcilerSuite) SetupTest() {
	s.source = newFakeSource()
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) newReconciler(opts ...Option) *Reconciler {
	base := []Option{WithPollInterval(20 * time.Millisecond), WithCeiling(2 * time.Second)}
	return New(s.source, append(base, opts...)...)
}

func completedStatusJSON(subject string, checkups int) ([]byte, error) {
	return json.Marshal(completedStatus(subject, checkups))
}

// collectEvents drains events until the deadline or until stop returns true.
func collectEvents(events <-chan Event, deadline time.Duration, stop func([]Event) bool) []Event {
	var got []Event
	timer := time.After(deadline)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
			if stop != nil && stop(got) {
				return got
			}
		case <-timer:
			return got
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (s *ReconcilerSuite) TestAtMostOnceCompletion() {
	s.Run("push success after poll success is dropped by the latch", func() {
		r := s.newReconciler()
		events, err := r.Start(context.Background(), "a1")
		s.Require().NoError(err)
		defer r.Stop("a1")

		// Poll observes success first, push repeats it shortly after.
		s.source.setStatus(completedStatus("U1", 2))
		go func() {
			time.Sleep(60 * time.Millisecond)
			payload, _ := completedStatusJSON("U1", 2)
			s.source.pushFrame(provider.PushFrame{Type: "completed", Payload: payload})
		}()

		got := collectEvents(events, time.Second, func(got []Event) bool {
			return countKind(got, KindComplete) >= 1
		})
		// Give the duplicate time to arrive, then confirm nothing surfaced.
		time.Sleep(150 * time.Millisecond)
		select {
		case ev, ok := <-events:
			if ok {
				s.NotEqual(KindComplete, ev.Kind, "latch must drop the second success")
			}
		default:
		}

		s.Equal(1, countKind(got, KindComplete))
		payload := got[len(got)-1].Payload
		s.Require().NotNil(payload)
		s.Equal(domain.SubjectID("U1"), payload.SubjectID)
		s.Len(payload.Checkups, 2)
	})
}

func (s *ReconcilerSuite) TestPendingApprovalCollapses() {
	// Push reports the approval block at t≈0; the poll channel observes the
	// same state right after. Exactly one notice must surface.
	r := s.newReconciler()
	events, err := r.Start(context.Background(), "a1")
	s.Require().NoError(err)
	defer r.Stop("a1")

	s.source.setStatus(provider.StatusResponse{Status: "error", Message: "인증 대기 중 (4115)"})
	s.source.pushFrame(provider.PushFrame{Type: "health_data_failed", Message: "인증을 완료해주세요 (4115)"})

	got := collectEvents(events, 300*time.Millisecond, nil)
	s.Equal(1, countKind(got, KindAuthNotYetApproved))
	s.Zero(countKind(got, KindFailure))
	s.Zero(countKind(got, KindComplete))
}

func (s *ReconcilerSuite) TestHardCeiling() {
	// No events at all: exactly one Failure("timeout") and the stream ends.
	r := s.newReconciler(WithCeiling(150 * time.Millisecond))
	s.source.setStatus(provider.StatusResponse{Status: "collecting"})

	events, err := r.Start(context.Background(), "a1")
	s.Require().NoError(err)

	got := collectEvents(events, time.Second, nil)

	failures := 0
	for _, ev := range got {
		if ev.Kind == KindFailure {
			failures++
			s.Equal("timeout", ev.Message)
		}
	}
	s.Equal(1, failures)
}

func (s *ReconcilerSuite) TestPollErrorsAreTransient() {
	r := s.newReconciler()
	events, err := r.Start(context.Background(), "a1")
	s.Require().NoError(err)
	defer r.Stop("a1")

	s.source.mu.Lock()
	s.source.statusErr = context.DeadlineExceeded
	s.source.mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	s.source.mu.Lock()
	s.source.statusErr = nil
	s.source.status = completedStatus("U1", 1)
	s.source.mu.Unlock()

	got := collectEvents(events, time.Second, func(got []Event) bool {
		return countKind(got, KindComplete) >= 1
	})
	s.Equal(1, countKind(got, KindComplete))
	s.Zero(countKind(got, KindFailure), "poll errors must never fail the attempt")
}

func (s *ReconcilerSuite) TestSubscribeFailureFallsBackToPolling() {
	s.source.mu.Lock()
	s.source.subscribeErr = context.DeadlineExceeded
	s.source.mu.Unlock()

	r := s.newReconciler()
	events, err := r.Start(context.Background(), "a1")
	s.Require().NoError(err)
	defer r.Stop("a1")

	s.source.setStatus(completedStatus("U1", 1))
	got := collectEvents(events, time.Second, func(got []Event) bool {
		return countKind(got, KindComplete) >= 1
	})
	s.Equal(1, countKind(got, KindComplete))
}

func (s *ReconcilerSuite) TestStopIdempotent() {
	r := s.newReconciler()
	events, err := r.Start(context.Background(), "a1")
	s.Require().NoError(err)

	r.Stop("a1")
	r.Stop("a1")
	r.Stop("never-started")

	// Stream winds down after stop.
	got := collectEvents(events, time.Second, nil)
	s.Empty(got)

	s.Run("attempt id can be reused after stop", func() {
		_, err := r.Start(context.Background(), "a1")
		s.Require().NoError(err)
		r.Stop("a1")
	})
}

func (s *ReconcilerSuite) TestDuplicateStartRejected() {
	r := s.newReconciler()
	_, err := r.Start(context.Background(), "a1")
	s.Require().NoError(err)
	defer r.Stop("a1")

	_, err = r.Start(context.Background(), "a1")
	s.Require().Error(err)
}
