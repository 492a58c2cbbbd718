package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/model"
	"github.com/mmeshcher/storefront-core/internal/notify"
)

var errNotFound = errors.New("not found")

type memStore struct {
	workers  map[string]model.Worker
	listings map[string]model.Listing
	writes   []string
}

func newMemStore() *memStore {
	return &memStore{
		workers: map[string]model.Worker{
			"w1": {ID: "w1", FirstName: "Иван", LastName: "Петров", AccountID: "acc-1", Status: model.StatusPending},
			"w2": {ID: "w2", FirstName: "Без", LastName: "Аккаунта", Status: model.StatusPending},
		},
		listings: map[string]model.Listing{
			"l1": {ID: "l1", Title: "Велосипед", Status: model.StatusPending},
		},
	}
}

func (s *memStore) UpdateWorkerStatus(ctx context.Context, id string, status model.WorkflowStatus, pending bool) (model.Worker, error) {
	w, ok := s.workers[id]
	if !ok {
		return model.Worker{}, errNotFound
	}
	s.writes = append(s.writes, "status:"+id)
	w.Status = status
	w.ActivationPending = pending
	s.workers[id] = w
	return w, nil
}

func (s *memStore) UpdateListingStatus(ctx context.Context, id string, status model.WorkflowStatus) (model.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return model.Listing{}, errNotFound
	}
	s.writes = append(s.writes, "status:"+id)
	l.Status = status
	s.listings[id] = l
	return l, nil
}

func (s *memStore) SetActivationPending(ctx context.Context, id string, pending bool) error {
	w := s.workers[id]
	w.ActivationPending = pending
	s.workers[id] = w
	s.writes = append(s.writes, "flag:"+id)
	return nil
}

func (s *memStore) GetWorker(ctx context.Context, id string) (model.Worker, error) {
	w, ok := s.workers[id]
	if !ok {
		return model.Worker{}, errNotFound
	}
	return w, nil
}

func (s *memStore) ListActivationPending(ctx context.Context) ([]model.Worker, error) {
	var out []model.Worker
	for _, w := range s.workers {
		if w.Status == model.StatusApproved && w.ActivationPending {
			out = append(out, w)
		}
	}
	return out, nil
}

type stubActivator struct {
	store *memStore
	err   error
	calls []string
}

func (a *stubActivator) Activate(ctx context.Context, accountID string) error {
	a.calls = append(a.calls, accountID)
	if a.store != nil {
		a.store.writes = append(a.store.writes, "activate:"+accountID)
	}
	return a.err
}

type countingInvalidator struct {
	tags []string
	err  error
}

func (i *countingInvalidator) Invalidate(ctx context.Context, tag string) error {
	i.tags = append(i.tags, tag)
	return i.err
}

type recordingNotifier struct {
	payloads []notify.Payload
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, p notify.Payload) error {
	n.payloads = append(n.payloads, p)
	return n.err
}

type fixture struct {
	store       *memStore
	activator   *stubActivator
	invalidator *countingInvalidator
	notifier    *recordingNotifier
	tracker     *Tracker
}

func newFixture() *fixture {
	f := &fixture{
		store:       newMemStore(),
		invalidator: &countingInvalidator{},
		notifier:    &recordingNotifier{},
	}
	f.activator = &stubActivator{store: f.store}
	f.tracker = NewTracker(f.store, f.activator, f.invalidator, f.notifier, zap.NewNop())
	return f
}

func TestTransition_WorkerApprovalActivates(t *testing.T) {
	f := newFixture()

	ack, err := f.tracker.Transition(context.Background(), model.SubjectWorker, "w1", model.StatusApproved)

	require.NoError(t, err)
	assert.Equal(t, Ack{Subject: model.SubjectWorker, ID: "w1", Status: model.StatusApproved}, ack)
	assert.Equal(t, []string{"status:w1", "activate:acc-1", "flag:w1"}, f.store.writes, "status is persisted before activation")
	assert.False(t, f.store.workers["w1"].ActivationPending)
	assert.Equal(t, []string{"workers"}, f.invalidator.tags)

	require.Len(t, f.notifier.payloads, 1)
	sc := f.notifier.payloads[0].StatusChange
	require.NotNil(t, sc)
	assert.Equal(t, "Иван Петров", sc.Title)
	assert.Equal(t, model.StatusApproved, sc.Status)
}

func TestTransition_ScenarioC(t *testing.T) {
	f := newFixture()
	f.activator.err = errors.New("backend unavailable")

	ack, err := f.tracker.Transition(context.Background(), model.SubjectWorker, "w1", model.StatusApproved)

	require.NoError(t, err)
	assert.True(t, ack.ActivationPending)
	assert.Equal(t, model.StatusApproved, f.store.workers["w1"].Status)
	assert.True(t, f.store.workers["w1"].ActivationPending)
	assert.Equal(t, []string{"workers"}, f.invalidator.tags)
	assert.True(t, f.notifier.payloads[0].StatusChange.ActivationPending)

	inconsistent, err := f.tracker.ListInconsistent(context.Background())
	require.NoError(t, err)
	require.Len(t, inconsistent, 1)
	assert.Equal(t, "w1", inconsistent[0].ID)

	f.activator.err = nil
	ack, err = f.tracker.RetryActivation(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, ack.ActivationPending)
	assert.False(t, f.store.workers["w1"].ActivationPending)
	assert.Len(t, f.invalidator.tags, 2)

	inconsistent, err = f.tracker.ListInconsistent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inconsistent)
}

func TestTransition_WorkerWithoutAccountStaysPending(t *testing.T) {
	f := newFixture()

	ack, err := f.tracker.Transition(context.Background(), model.SubjectWorker, "w2", model.StatusApproved)

	require.NoError(t, err)
	assert.True(t, ack.ActivationPending)
	assert.Empty(t, f.activator.calls)
}

func TestTransition_Listings(t *testing.T) {
	tests := []struct {
		name    string
		target  model.WorkflowStatus
		want    model.WorkflowStatus
		wantErr error
	}{
		{name: "approved is published", target: model.StatusApproved, want: model.StatusPublished},
		{name: "published", target: model.StatusPublished, want: model.StatusPublished},
		{name: "rejected", target: model.StatusRejected, want: model.StatusRejected},
		{name: "reset to pending", target: model.StatusPending, wantErr: ErrTransitionNotAllowed},
		{name: "unknown status", target: "archived", wantErr: ErrTransitionNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			ack, err := f.tracker.Transition(context.Background(), model.SubjectListing, "l1", tt.target)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, f.store.writes)
				assert.Empty(t, f.invalidator.tags)
				assert.Empty(t, f.notifier.payloads)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ack.Status)
			assert.Equal(t, tt.want, f.store.listings["l1"].Status)
			assert.Equal(t, []string{"listings"}, f.invalidator.tags)
			assert.Empty(t, f.activator.calls)
			require.Len(t, f.notifier.payloads, 1)
			assert.Equal(t, notify.KindStatusChange, f.notifier.payloads[0].Kind)
		})
	}
}

func TestTransition_WorkerRejectClearsFlag(t *testing.T) {
	f := newFixture()
	f.store.workers["w1"] = model.Worker{ID: "w1", AccountID: "acc-1", Status: model.StatusApproved, ActivationPending: true}

	ack, err := f.tracker.Transition(context.Background(), model.SubjectWorker, "w1", model.StatusRejected)

	require.NoError(t, err)
	assert.False(t, ack.ActivationPending)
	assert.False(t, f.store.workers["w1"].ActivationPending)
	assert.Empty(t, f.activator.calls)
}

func TestTransition_StoreFailureHasNoSideEffects(t *testing.T) {
	f := newFixture()

	_, err := f.tracker.Transition(context.Background(), model.SubjectWorker, "missing", model.StatusApproved)

	assert.ErrorIs(t, err, errNotFound)
	assert.Empty(t, f.activator.calls)
	assert.Empty(t, f.invalidator.tags)
	assert.Empty(t, f.notifier.payloads)
}

func TestTransition_SideEffectFailuresAreSwallowed(t *testing.T) {
	f := newFixture()
	f.invalidator.err = errors.New("redis down")
	f.notifier.err = notify.ErrNotConfigured

	ack, err := f.tracker.Transition(context.Background(), model.SubjectListing, "l1", model.StatusRejected)

	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, ack.Status)
	assert.Len(t, f.invalidator.tags, 1)
}

func TestTransition_UnknownSubject(t *testing.T) {
	f := newFixture()

	_, err := f.tracker.Transition(context.Background(), "orders", "o1", model.StatusApproved)

	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestRetryActivation(t *testing.T) {
	t.Run("not approved", func(t *testing.T) {
		f := newFixture()
		_, err := f.tracker.RetryActivation(context.Background(), "w1")
		assert.ErrorIs(t, err, ErrTransitionNotAllowed)
	})

	t.Run("already active", func(t *testing.T) {
		f := newFixture()
		f.store.workers["w1"] = model.Worker{ID: "w1", AccountID: "acc-1", Status: model.StatusApproved}

		ack, err := f.tracker.RetryActivation(context.Background(), "w1")
		require.NoError(t, err)
		assert.False(t, ack.ActivationPending)
		assert.Empty(t, f.activator.calls)
		assert.Empty(t, f.notifier.payloads)
	})

	t.Run("still failing", func(t *testing.T) {
		f := newFixture()
		f.store.workers["w1"] = model.Worker{ID: "w1", AccountID: "acc-1", Status: model.StatusApproved, ActivationPending: true}
		f.activator.err = errors.New("timeout")

		_, err := f.tracker.RetryActivation(context.Background(), "w1")
		assert.ErrorIs(t, err, ErrActivationFailed)
		assert.True(t, f.store.workers["w1"].ActivationPending)
	})
}
