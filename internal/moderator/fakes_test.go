package moderator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"github.com/tullo/moderation/internal/repository"
	"go.uber.org/zap"
)

func copyCase(c *models.ModerationCase) *models.ModerationCase {
	cp := *c
	cp.Evidence = append([]models.EvidenceEntry(nil), c.Evidence...)
	return &cp
}

// memCases mimics the Postgres store: a unique index on active cases and
// version-checked evidence updates.
type memCases struct {
	mu      sync.Mutex
	cases   map[uuid.UUID]*models.ModerationCase
	creates int
	findErr error
	now     func() time.Time
}

func newMemCases() *memCases {
	return &memCases{cases: map[uuid.UUID]*models.ModerationCase{}, now: time.Now}
}

func (m *memCases) FindActive(_ context.Context, st models.SourceType, sid uuid.UUID) (*models.ModerationCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, c := range m.cases {
		if c.SourceType == st && c.SourceID == sid && c.State.Active() {
			return copyCase(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memCases) GetByID(_ context.Context, id uuid.UUID) (*models.ModerationCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyCase(c), nil
}

func (m *memCases) Create(_ context.Context, c *models.ModerationCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.cases {
		if existing.SourceType == c.SourceType && existing.SourceID == c.SourceID && existing.State.Active() {
			return repository.ErrActiveCaseExists
		}
	}
	c.Version = 1
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	m.cases[c.ID] = copyCase(c)
	m.creates++
	return nil
}

func (m *memCases) UpdateEvidence(_ context.Context, c *models.ModerationCase, evidence []models.EvidenceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.cases[c.ID]
	if !ok || stored.Version != c.Version || !stored.State.Active() {
		return repository.ErrStaleCase
	}
	stored.Evidence = append([]models.EvidenceEntry(nil), evidence...)
	stored.Version++
	c.Version = stored.Version
	c.Evidence = evidence
	return nil
}

func (m *memCases) ListStaleOpen(_ context.Context, cutoff time.Time, limit int) ([]*models.ModerationCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := []*models.ModerationCase{}
	for _, c := range m.cases {
		if c.State == models.CaseOpen && c.CreatedAt.Before(cutoff) {
			res = append(res, copyCase(c))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memCases) Transition(_ context.Context, id uuid.UUID, from, to models.CaseState, p repository.TransitionParams) (*models.ModerationCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok || c.State != from {
		return nil, repository.ErrStaleCase
	}
	c.State = to
	if p.ModeratorID != nil {
		id := *p.ModeratorID
		c.AssignedModeratorID = &id
	}
	if c.FirstResponseAt == nil && p.FirstResponseAt != nil {
		t := *p.FirstResponseAt
		c.FirstResponseAt = &t
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		c.ResolvedAt = &t
	}
	c.Version++
	return copyCase(c), nil
}

func (m *memCases) all() []*models.ModerationCase {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := []*models.ModerationCase{}
	for _, c := range m.cases {
		res = append(res, copyCase(c))
	}
	return res
}

func (m *memCases) setCreatedAt(id uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[id].CreatedAt = at
}

type memContent struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*models.Content
	locked    map[uuid.UUID]bool
	lockCalls int
	locks     int
	pending   int
}

func newMemContent() *memContent {
	return &memContent{items: map[uuid.UUID]*models.Content{}, locked: map[uuid.UUID]bool{}}
}

func (m *memContent) add(st models.SourceType, parent *uuid.UUID, body string) *models.Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Content{ID: uuid.New(), SourceType: st, ParentID: parent, Body: body, Status: models.ContentVisible}
	m.items[c.ID] = c
	return c
}

func (m *memContent) get(id uuid.UUID) models.Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

func (m *memContent) IncrementFlagCount(_ context.Context, st models.SourceType, id uuid.UUID) (*models.FlagCountUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.SourceType != st {
		return nil, repository.ErrNotFound
	}
	prior := c.Status
	c.FlagCount++
	return &models.FlagCountUpdate{
		ContentID:   c.ID,
		ParentID:    c.ParentID,
		Body:        c.Body,
		Attachments: c.Attachments,
		FlagCount:   c.FlagCount,
		PriorStatus: prior,
	}, nil
}

func (m *memContent) MarkPendingReview(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.items[id]
	if c.Status != models.ContentVisible {
		return false, nil
	}
	c.Status = models.ContentPendingReview
	m.pending++
	return true, nil
}

func (m *memContent) LockContainer(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	if m.locked[id] {
		return false, nil
	}
	m.locked[id] = true
	m.locks++
	return true, nil
}

type memFlags struct {
	mu    sync.Mutex
	flags []*models.Flag
	err   error
}

func (m *memFlags) Create(_ context.Context, f *models.Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.flags = append(m.flags, f)
	return nil
}

type memNotifications struct {
	mu      sync.Mutex
	records []*models.Notification
	failFor map[uuid.UUID]bool
}

func (m *memNotifications) Create(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[n.RecipientID] {
		return errors.New("notification store unavailable")
	}
	n.CreatedAt = time.Now()
	m.records = append(m.records, n)
	return nil
}

func (m *memNotifications) byKind(kind models.NotificationKind) []*models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := []*models.Notification{}
	for _, n := range m.records {
		if n.Kind == kind {
			res = append(res, n)
		}
	}
	return res
}

type staticDirectory struct {
	ids []uuid.UUID
	err error
}

func (d staticDirectory) ModeratorIDs(_ context.Context, limit int) ([]uuid.UUID, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(d.ids) > limit {
		return d.ids[:limit], nil
	}
	return d.ids, nil
}

type recordingTelemetry struct {
	mu         sync.Mutex
	deliveries []string
	cases      []string
}

func (r *recordingTelemetry) TrackDelivery(_ context.Context, subjectID string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, subjectID)
}

func (r *recordingTelemetry) TrackCase(_ context.Context, caseID string, _ time.Time, _, _ *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases = append(r.cases, caseID)
}

type memAudit struct {
	mu   sync.Mutex
	logs []*models.ModerationLog
}

func (m *memAudit) AddLog(_ context.Context, l *models.ModerationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

type engine struct {
	cases         *memCases
	content       *memContent
	flags         *memFlags
	notifications *memNotifications
	telemetry     *recordingTelemetry
	audit         *memAudit
	moderators    []uuid.UUID

	registry  *Registry
	notifier  *Notifier
	intake    *Intake
	escalator *Escalator
	reviewer  *Reviewer
}

func newEngine(moderators int) *engine {
	e := &engine{
		cases:         newMemCases(),
		content:       newMemContent(),
		flags:         &memFlags{},
		notifications: &memNotifications{failFor: map[uuid.UUID]bool{}},
		telemetry:     &recordingTelemetry{},
		audit:         &memAudit{},
	}
	for i := 0; i < moderators; i++ {
		e.moderators = append(e.moderators, uuid.New())
	}

	m := metrics.New(nil)
	log := zap.NewNop()
	e.registry = NewRegistry(e.cases, m, log)
	e.notifier = NewNotifier(e.notifications, staticDirectory{ids: e.moderators}, nil, e.telemetry, 100, 4, m, log)
	e.intake = NewIntake(e.content, e.flags, e.registry, e.notifier, e.telemetry, 3, m, log)
	e.escalator = NewEscalator(e.cases, e.notifier, e.audit, 15*time.Minute, 50, m, log)
	e.reviewer = NewReviewer(e.cases, e.audit, e.telemetry, log)
	return e
}

func flagEvent(target *models.Content, reason string) models.FlagCreatedEvent {
	return models.FlagCreatedEvent{
		SourceType: string(target.SourceType),
		SourceID:   target.ID,
		ReporterID: uuid.New(),
		Reason:     reason,
	}
}
