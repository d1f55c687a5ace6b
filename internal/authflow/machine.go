// Package authflow is the top-level orchestrator of an identity-verification
// flow. The machine is the single source of truth for the current step: user
// input and reconciler events all funnel through it, one at a time, and every
// asynchronous continuation carries the attempt it belongs to so stale
// results are discarded after a reset.
package authflow

//go:generate mockgen -source=machine.go -destination=mocks/mocks.go -package=mocks Starter,EventSource,Sessions,Credentials

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"medigate/internal/audit"
	"medigate/internal/collect"
	"medigate/internal/passsession"
	"medigate/internal/provider"
	"medigate/internal/recordstore"
	"medigate/pkg/domain"
	dErrors "medigate/pkg/domain-errors"
)

// Starter is the slice of the provider client the machine drives.
type Starter interface {
	StartSession(ctx context.Context, req provider.StartRequest) (provider.StartResponse, error)
	ManualAuthComplete(ctx context.Context, sessionID string) error
	CollectHealthData(ctx context.Context, sessionID string) (provider.StatusResponse, error)
}

// EventSource reconciles push and poll channels into one event stream.
type EventSource interface {
	Start(ctx context.Context, attemptID domain.AttemptID) (<-chan collect.Event, error)
	Stop(attemptID domain.AttemptID)
}

// Sessions mints and manages credential-gated sessions after collection.
type Sessions interface {
	CreateSession(ctx context.Context, key domain.SessionKey) (passsession.CachedSession, error)
	Invalidate(ctx context.Context, key domain.SessionKey)
}

// Credentials answers whether a local credential exists for a subject.
type Credentials interface {
	Has(key domain.SessionKey) bool
}

// Machine serializes all step transitions. All exported methods are safe
// for concurrent use; events are processed to completion one at a time.
type Machine struct {
	starter     Starter
	source      EventSource
	records     recordstore.Store
	sessions    Sessions
	credentials Credentials
	recorder    *audit.Recorder
	logger      *slog.Logger
	onNotice    func(Notice)
	stallWindow time.Duration
	now         func() time.Time

	mu           sync.Mutex
	step         Step
	session      VerificationSession
	generation   uint64
	lastActivity time.Time
}

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithNoticeHandler registers the callback receiving advisory notices.
// Notices are presentation hints; they never change the current step.
func WithNoticeHandler(handler func(Notice)) Option {
	return func(m *Machine) {
		m.onNotice = handler
	}
}

// WithStallWindow overrides the inactivity window after which Stalled
// starts reporting true while collecting.
func WithStallWindow(window time.Duration) Option {
	return func(m *Machine) {
		m.stallWindow = window
	}
}

func withNow(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

const defaultStallWindow = 60 * time.Second

func New(starter Starter, source EventSource, records recordstore.Store, sessions Sessions, credentials Credentials, recorder *audit.Recorder, opts ...Option) *Machine {
	m := &Machine{
		starter:     starter,
		source:      source,
		records:     records,
		sessions:    sessions,
		credentials: credentials,
		recorder:    recorder,
		logger:      slog.Default(),
		onNotice:    func(Notice) {},
		stallWindow: defaultStallWindow,
		now:         time.Now,
		step:        StepUnauthenticated,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Step returns the current step.
func (m *Machine) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// Begin opens a new flow, moving Unauthenticated to TermsPending.
func (m *Machine) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepUnauthenticated {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot begin from step %s", m.step)
	}
	m.step = StepTermsPending
	m.session = VerificationSession{CreatedAt: m.now()}
	m.recorder.Emit(audit.Event{Action: string(audit.EventFlowStarted)})
	return nil
}

// SubmitTerms accepts the clause selections. All mandatory clauses must be
// accepted; otherwise the step does not change.
func (m *Machine) SubmitTerms(agreement TermsAgreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepTermsPending {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot submit terms from step %s", m.step)
	}
	if !agreement.mandatoryAccepted() {
		return dErrors.New(dErrors.CodeInvalidInput, "mandatory terms not accepted")
	}
	m.step = StepInfoConfirming
	m.recorder.Emit(audit.Event{Action: string(audit.EventTermsAccepted)})
	return nil
}

// SubmitSubjectInfo fills one field of the subject payload. The step
// advances to MethodPending once name, phone and birthday are present; when
// the method arrives too, the pre-check lookup runs and decides the path.
func (m *Machine) SubmitSubjectInfo(ctx context.Context, field SubjectField, value string) (Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepInfoConfirming && m.step != StepMethodPending {
		return PathUndecided, dErrors.Newf(dErrors.CodeInvalidState, "cannot submit subject info from step %s", m.step)
	}
	if value == "" {
		return PathUndecided, dErrors.Newf(dErrors.CodeInvalidInput, "empty value for field %s", field)
	}

	switch field {
	case FieldName:
		m.session.Subject.Name = value
	case FieldPhone:
		m.session.Subject.Phone = value
	case FieldBirthday:
		m.session.Subject.Birthday = value
	case FieldMethod:
		m.session.Subject.Method = value
	default:
		return PathUndecided, dErrors.Newf(dErrors.CodeInvalidInput, "unknown subject field %s", field)
	}

	if m.step == StepInfoConfirming && m.session.Subject.identityComplete() {
		m.step = StepMethodPending
	}
	if m.session.Subject.complete() && m.session.Path == PathUndecided {
		m.session.Path = m.precheck(ctx)
		m.recorder.Emit(audit.Event{
			Action:  string(audit.EventSubjectInfoSet),
			Outcome: string(m.session.Path),
		})
	}
	return m.session.Path, nil
}

// precheck looks for previously stored records for this person and a local
// credential to go with them. A failed lookup is treated the same as no
// stored data, so the flow falls through to fresh collection.
func (m *Machine) precheck(ctx context.Context) Path {
	records, err := m.records.ListAll(ctx)
	if err != nil {
		m.logger.Warn("pre-check lookup failed, assuming fresh collection", "error", err)
		return PathFreshCollection
	}
	for _, record := range records {
		if record.DisplayName != m.session.Subject.Name {
			continue
		}
		key := domain.SessionKey{Subject: record.SubjectID, Provider: record.ProviderID}
		if m.credentials.Has(key) {
			return PathCredentialConfirm
		}
	}
	return PathFreshCollection
}

// StartAuth calls the provider's session start and begins reconciling both
// channels. On success the step becomes ExternalApprovalPending; a remote
// failure is terminal and only Reset recovers.
func (m *Machine) StartAuth(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepMethodPending {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot start auth from step %s", m.step)
	}
	if !m.session.Subject.complete() {
		return dErrors.New(dErrors.CodeInvalidInput, "subject info incomplete")
	}

	resp, err := m.starter.StartSession(ctx, provider.StartRequest{
		Name:     m.session.Subject.Name,
		Phone:    m.session.Subject.Phone,
		Birthday: m.session.Subject.Birthday,
		Method:   m.session.Subject.Method,
	})
	if err != nil {
		m.step = StepErrored
		m.recorder.Emit(audit.Event{Action: string(audit.EventAuthFailed), Reason: err.Error()})
		return dErrors.Wrap(err, dErrors.CodeRemote, "session start failed")
	}

	attemptID := domain.AttemptID(resp.SessionID)
	events, err := m.source.Start(ctx, attemptID)
	if err != nil {
		m.step = StepErrored
		m.recorder.Emit(audit.Event{Action: string(audit.EventAuthFailed), AttemptID: attemptID, Reason: err.Error()})
		return dErrors.Wrap(err, dErrors.CodeRemote, "failed to start reconciler")
	}

	m.session.AttemptID = attemptID
	m.step = StepExternalApprovalPending
	m.lastActivity = m.now()
	m.recorder.Emit(audit.Event{Action: string(audit.EventAuthStarted), AttemptID: attemptID})

	generation := m.generation
	go m.consume(generation, events)
	return nil
}

// consume drains one attempt's event stream into the machine.
func (m *Machine) consume(generation uint64, events <-chan collect.Event) {
	for event := range events {
		m.handleEvent(generation, event)
	}
}

// ManualComplete is the user-triggered alternative to automatic detection:
// the user asserts the external approval happened, so the machine tells the
// provider to finalize and collects in one shot. Remote failures are
// retryable and do not change the step.
func (m *Machine) ManualComplete(ctx context.Context) error {
	m.mu.Lock()
	if m.step != StepExternalApprovalPending && m.step != StepCollecting {
		m.mu.Unlock()
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot complete manually from step %s", m.step)
	}
	generation := m.generation
	attemptID := m.session.AttemptID
	m.mu.Unlock()

	if err := m.starter.ManualAuthComplete(ctx, attemptID.String()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeRemote, "manual completion failed")
	}
	status, err := m.starter.CollectHealthData(ctx, attemptID.String())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeRemote, "collection failed")
	}

	m.handleEvent(generation, collect.ClassifyStatus(attemptID, status))
	return nil
}

// handleEvent applies one reconciler event. Events from a superseded
// attempt are discarded.
func (m *Machine) handleEvent(generation uint64, event collect.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation {
		return
	}
	if m.step != StepExternalApprovalPending && m.step != StepCollecting {
		return
	}

	switch event.Kind {
	case collect.KindAuthNotYetApproved:
		m.onNotice(Notice{Kind: NoticeApprovalPending, Message: event.Message})

	case collect.KindProgress:
		if m.step == StepExternalApprovalPending {
			m.step = StepCollecting
		}
		m.lastActivity = m.now()

	case collect.KindPartialComplete:
		if m.step == StepExternalApprovalPending {
			m.step = StepCollecting
		}
		m.lastActivity = m.now()
		m.onNotice(Notice{Kind: NoticePartialComplete, Message: event.Category})

	case collect.KindComplete:
		m.complete(event)

	case collect.KindFailure:
		m.step = StepErrored
		m.source.Stop(m.session.AttemptID)
		action := audit.EventAuthFailed
		if event.Message == "timeout" {
			action = audit.EventAttemptTimedOut
		}
		m.recorder.Emit(audit.Event{
			Action:    string(action),
			AttemptID: m.session.AttemptID,
			Reason:    event.Message,
		})
	}
}

// complete commits the collected records exactly once, then mints the
// follow-up session. The reconciler's latch guarantees this runs at most
// once per attempt. Called with the lock held.
func (m *Machine) complete(event collect.Event) {
	payload := event.Payload
	if payload == nil {
		m.logger.Warn("complete event without payload, ignoring", "attempt_id", event.Attempt)
		return
	}

	ctx := context.Background()
	record := recordstore.HealthRecordAggregate{
		SubjectID:           payload.SubjectID,
		DisplayName:         payload.DisplayName,
		ProviderID:          payload.ProviderID,
		CheckupEntries:      payload.Checkups,
		PrescriptionEntries: payload.Prescriptions,
		SourceTag:           "verification",
	}
	result, err := m.records.Upsert(ctx, record, recordstore.WriteModeMerge)
	if err != nil {
		m.step = StepErrored
		m.source.Stop(m.session.AttemptID)
		m.recorder.Emit(audit.Event{
			Action:    string(audit.EventAuthFailed),
			SubjectID: payload.SubjectID,
			AttemptID: m.session.AttemptID,
			Reason:    err.Error(),
		})
		return
	}
	outcome := "merged"
	if result.Created {
		outcome = "created"
	}
	m.recorder.Emit(audit.Event{
		Action:     string(audit.EventRecordUpserted),
		SubjectID:  payload.SubjectID,
		ProviderID: payload.ProviderID,
		AttemptID:  m.session.AttemptID,
		Outcome:    outcome,
	})
	if result.Degraded {
		m.onNotice(Notice{Kind: NoticeStorageDegraded})
		m.recorder.Emit(audit.Event{
			Action:    string(audit.EventStoreDegraded),
			SubjectID: payload.SubjectID,
		})
	}
	m.recorder.Emit(audit.Event{
		Action:     string(audit.EventRecordsCollected),
		SubjectID:  payload.SubjectID,
		ProviderID: payload.ProviderID,
		AttemptID:  m.session.AttemptID,
	})

	key := domain.SessionKey{Subject: payload.SubjectID, Provider: payload.ProviderID}
	if _, err := m.sessions.CreateSession(ctx, key); err != nil {
		m.logger.Warn("session mint after collection failed",
			"subject_id", payload.SubjectID,
			"error", err,
		)
		m.onNotice(Notice{Kind: NoticeSessionUnavailable})
	}

	m.step = StepCompleted
	m.source.Stop(m.session.AttemptID)
	m.recorder.Emit(audit.Event{
		Action:     string(audit.EventAuthCompleted),
		SubjectID:  payload.SubjectID,
		ProviderID: payload.ProviderID,
		AttemptID:  m.session.AttemptID,
	})
}

// Reset returns to Unauthenticated from any step, discarding the attempt.
// Safe to call repeatedly.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.AttemptID != "" {
		m.source.Stop(m.session.AttemptID)
	}
	if m.step != StepUnauthenticated {
		m.recorder.Emit(audit.Event{Action: string(audit.EventFlowReset), AttemptID: m.session.AttemptID})
	}
	m.generation++
	m.session = VerificationSession{}
	m.step = StepUnauthenticated
}

// Stalled reports whether the flow has been collecting without progress for
// longer than the stall window. This is a presentation hint; the machine
// never transitions on it and an arbitrarily long stall never auto-fails.
func (m *Machine) Stalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepCollecting {
		return false
	}
	return m.now().Sub(m.lastActivity) > m.stallWindow
}

// Snapshot captures the current position for restart survival.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Step:      m.step,
		Subject:   m.session.Subject,
		Path:      m.session.Path,
		CreatedAt: m.session.CreatedAt,
	}
}

// Restore rehydrates a snapshot taken before a restart. Steps tied to a
// live attempt demote to MethodPending since the attempt itself cannot be
// resumed; the user restarts authentication with their info intact.
func (m *Machine) Restore(snapshot Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepUnauthenticated {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot restore over step %s", m.step)
	}

	step := snapshot.Step
	switch step {
	case StepExternalApprovalPending, StepCollecting:
		step = StepMethodPending
	case StepErrored:
		step = StepUnauthenticated
	}
	m.step = step
	m.session = VerificationSession{
		Subject:   snapshot.Subject,
		Path:      snapshot.Path,
		CreatedAt: snapshot.CreatedAt,
	}
	return nil
}
