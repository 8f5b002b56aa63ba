package deploy_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/deploy"
	"github.com/stacklok/gitops-agent/internal/git"
	"github.com/stacklok/gitops-agent/internal/git/gittest"
	"github.com/stacklok/gitops-agent/internal/history"
	hostmocks "github.com/stacklok/gitops-agent/internal/host/mocks"
	"github.com/stacklok/gitops-agent/internal/journal"
)

var baseFiles = gittest.Files{
	"configuration.yaml": "homeassistant:\n  name: Home\n",
	"automations.yaml":   "[]\n",
	"scripts.yaml":       "{}\n",
}

// recorder collects the progress events of a deployment
type recorder struct {
	mu     sync.Mutex
	events []deploy.Event
}

func (r *recorder) sink(ev deploy.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) statuses() []deploy.EventStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]deploy.EventStatus, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Status)
	}
	return out
}

func (r *recorder) find(status deploy.EventStatus) (deploy.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Status == status {
			return ev, true
		}
	}
	return deploy.Event{}, false
}

type memoryHistory struct {
	mu      sync.Mutex
	records []history.Record
}

func (m *memoryHistory) Record(_ context.Context, rec *history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryHistory) List(_ context.Context, _ int) ([]history.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Record(nil), m.records...), nil
}

func (*memoryHistory) Close() error { return nil }

type harness struct {
	upstream *gittest.Repo
	local    *gittest.Repo
	engine   git.Engine
	host     *hostmocks.MockHost
	journal  *journal.FileJournal
	registry *conditions.Registry
	history  *memoryHistory
	coord    *deploy.Coordinator
}

func newHarness(t *testing.T, opts ...deploy.Option) *harness {
	t.Helper()
	return newHarnessWith(t, baseFiles, nil, func(*gittest.Repo) []deploy.Option { return opts })
}

// newHarnessWith builds a harness on an upstream holding files. opts receives
// the working copy so options can point into it.
func newHarnessWith(
	t *testing.T,
	files gittest.Files,
	deps func(*harness, *deploy.Dependencies),
	opts func(local *gittest.Repo) []deploy.Option,
) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	h := &harness{
		upstream: gittest.NewUpstream(t, files),
		host:     hostmocks.NewMockHost(ctrl),
		journal:  journal.NewFileJournal(filepath.Join(t.TempDir(), "journal.json")),
		registry: conditions.NewRegistry(nil),
		history:  &memoryHistory{},
	}
	h.local = gittest.Clone(t, h.upstream)
	h.engine = git.NewEngine(h.local.Dir)
	require.NoError(t, h.engine.Open())

	d := deploy.Dependencies{
		Git:        h.engine,
		Host:       h.host,
		Journal:    h.journal,
		Conditions: h.registry,
		History:    h.history,
	}
	if deps != nil {
		deps(h, &d)
	}
	coord, err := deploy.New(d, opts(h.local)...)
	require.NoError(t, err)
	h.coord = coord
	return h
}

func (h *harness) lastJournal(t *testing.T) *journal.Entry {
	t.Helper()
	entry, err := h.journal.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)
	return entry
}

// start runs the coordinator's background loops until the test ends
func (h *harness) start(t *testing.T) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Start(context.Background()) }()
	t.Cleanup(func() {
		_ = h.coord.Stop()
		<-errCh
	})
	require.Eventually(t, h.coord.Ready, 5*time.Second, 10*time.Millisecond)
}

func webhookTrigger() deploy.Trigger {
	return deploy.Trigger{Source: "webhook", Payload: []byte(`{"ref":"refs/heads/main"}`)}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := deploy.New(deploy.Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git engine is required")
}

func TestNew_RecordsHeadBeforeStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	head := git.ShortSHA(h.local.Head(t))

	state := h.coord.DeploymentState()
	assert.Equal(t, deploy.StatusIdle, state.Status)
	assert.Equal(t, head, state.CommitSHA)
	assert.Equal(t, "Initial commit", state.CommitMessage)
	assert.Equal(t, head, h.coord.GitState().LocalSHA)
	assert.False(t, h.coord.Ready())
}

func TestDeploy_ReloadsMatchedDomains(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	head := h.upstream.Commit(t, "Add motion light automation", gittest.Files{
		"automations.yaml": "- id: motion_light\n",
	})

	gomock.InOrder(
		h.host.EXPECT().ValidateConfiguration(gomock.Any()).Return(nil),
		h.host.EXPECT().ReloadSubsystem(gomock.Any(), "automation").Return(nil),
	)

	rec := &recorder{}
	state, err := h.coord.Deploy(context.Background(), webhookTrigger(), rec.sink)
	require.NoError(t, err)

	assert.Equal(t, deploy.StatusSuccess, state.Status)
	assert.Equal(t, git.ShortSHA(head), state.CommitSHA)
	assert.Equal(t, "Add motion light automation", state.CommitMessage)
	assert.Equal(t, []string{"automations.yaml"}, state.ChangedFiles)
	assert.Equal(t, []string{"automation"}, state.ReloadDomains)
	assert.False(t, state.RestartRequired)
	assert.Empty(t, state.Error)
	assert.NotEmpty(t, state.AttemptID)

	assert.Equal(t, []deploy.EventStatus{
		deploy.EventStarted,
		deploy.EventPulling,
		deploy.EventPulled,
		deploy.EventValidating,
		deploy.EventValidated,
		deploy.EventReloading,
		deploy.EventSuccess,
	}, rec.statuses())

	pulled, _ := rec.find(deploy.EventPulled)
	assert.Equal(t, []string{"automations.yaml"}, pulled.ChangedFiles)
	assert.Equal(t, git.ShortSHA(head), pulled.CommitSHA)
	reloading, _ := rec.find(deploy.EventReloading)
	assert.Equal(t, "Reloading domains: automation", reloading.Message)
	success, _ := rec.find(deploy.EventSuccess)
	assert.Equal(t, []string{"automation"}, success.ReloadedDomains)
	assert.Equal(t, state.AttemptID, success.AttemptID)

	entry := h.lastJournal(t)
	assert.Equal(t, journal.StatusSuccess, entry.Status)
	assert.Equal(t, git.ShortSHA(head), entry.CommitSHA)
	assert.JSONEq(t, `{"ref":"refs/heads/main"}`, string(entry.Payload))

	gitState := h.coord.GitState()
	assert.Equal(t, git.ShortSHA(head), gitState.LocalSHA)
	assert.Equal(t, gitState.LocalSHA, gitState.RemoteSHA)
	assert.Equal(t, 0, gitState.CommitsBehind)
	assert.False(t, gitState.UpdateAvailable())

	records, err := h.history.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "success", records[0].Status)
	assert.Equal(t, "webhook", records[0].Trigger)
}

func TestDeploy_RestartRequired(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upstream.Commit(t, "Rename home", gittest.Files{
		"configuration.yaml": "homeassistant:\n  name: Cabin\n",
		"automations.yaml":   "- id: porch\n",
	})

	// no reload calls may be issued
	h.host.EXPECT().ValidateConfiguration(gomock.Any()).Return(nil)

	rec := &recorder{}
	state, err := h.coord.Deploy(context.Background(), webhookTrigger(), rec.sink)
	require.NoError(t, err)

	assert.Equal(t, deploy.StatusRestartRequired, state.Status)
	assert.True(t, state.RestartRequired)
	assert.NotContains(t, rec.statuses(), deploy.EventReloading)

	ev, ok := rec.find(deploy.EventRestartRequired)
	require.True(t, ok)
	assert.Equal(t, "Rename home", ev.CommitMessage)

	assert.Equal(t, journal.StatusSuccess, h.lastJournal(t).Status)

	cond, raised := h.registry.Get(conditions.RestartRequired)
	require.True(t, raised)
	assert.Equal(t, "Rename home", cond.Context["message"])
	assert.Equal(t, "configuration.yaml", cond.Context["files"])
	assert.Contains(t, cond.Context["clear"], "DELETE /api/v1/conditions/restart_required")
}

func TestDeploy_RestartConditionStaysUntilAcknowledged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upstream.Commit(t, "Rename home", gittest.Files{
		"configuration.yaml": "homeassistant:\n  name: Cabin\n",
	})
	h.host.EXPECT().ValidateConfiguration(gomock.Any()).Return(nil).Times(2)
	h.host.EXPECT().ReloadSubsystem(gomock.Any(), "script").Return(nil)

	state, err := h.coord.Deploy(context.Background(), webhookTrigger(), nil)
	require.NoError(t, err)
	require.Equal(t, deploy.StatusRestartRequired, state.Status)

	// a later reload-only deployment does not mean the host restarted
	h.upstream.Commit(t, "Add morning script", gittest.Files{"scripts.yaml": "morning: {}\n"})
	state, err = h.coord.Deploy(context.Background(), webhookTrigger(), nil)
	require.NoError(t, err)
	assert.Equal(t, deploy.StatusSuccess, state.Status)
	assert.False(t, state.RestartRequired)

	cond, raised := h.registry.Get(conditions.RestartRequired)
	require.True(t, raised)
	assert.Equal(t, "Rename home", cond.Context["message"])

	assert.True(t, h.coord.AcknowledgeCondition(context.Background(), conditions.RestartRequired))
	_, raised = h.registry.Get(conditions.RestartRequired)
	assert.False(t, raised)
}

func TestDeploy_GitLockDetected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	before := h.local.Head(t)
	h.upstream.Commit(t, "Change scripts", gittest.Files{"scripts.yaml": "hello: {}\n"})
	h.local.Lock(t)

	rec := &recorder{}
	state, err := h.coord.Deploy(context.Background(), webhookTrigger(), rec.sink)
	require.Error(t, err)
	assert.Equal(t, deploy.KindGitLocked, deploy.KindOf(err))
	assert.ErrorIs(t, err, git.ErrGitLocked)

	assert.Equal(t, deploy.StatusFailed, state.Status)
	assert.Contains(t, state.Error, "lock")
	assert.Equal(t, []deploy.EventStatus{deploy.EventStarted, deploy.EventFailed}, rec.statuses())

	entry := h.lastJournal(t)
	assert.Equal(t, journal.StatusFailed, entry.Status)
	assert.Equal(t, "git_lock", entry.Error)
	// the attempt ran without Start and still journaled the deployed commit
	assert.Equal(t, git.ShortSHA(before), entry.CommitSHA)

	_, raised := h.registry.Get(conditions.GitLockDetected)
	assert.True(t, raised)

	// nothing was pulled
	assert.Equal(t, before, h.local.Head(t))
}

func TestDeploy_ValidationFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upstream.Commit(t, "Broken automation", gittest.Files{"automations.yaml": "- id: [\n"})
	h.host.EXPECT().ValidateConfiguration(gomock.Any()).Return(errors.New("invalid YAML in automations.yaml"))

	rec := &recorder{}
	state, err := h.coord.Deploy(context.Background(), webhookTrigger(), rec.sink)
	require.Error(t, err)
	assert.Equal(t, deploy.KindValidationFailed, deploy.KindOf(err))

	assert.Equal(t, deploy.StatusFailed, state.Status)
	assert.Equal(t, "Config validation failed: invalid YAML in automations.yaml", state.Error)
	failed, ok := rec.find(deploy.EventFailed)
	require.True(t, ok)
	assert.Equal(t, state.Error, failed.Error)

	entry := h.lastJournal(t)
	assert.Equal(t, journal.StatusFailed, entry.Status)
	assert.Equal(t, state.Error, entry.Error)
}

func TestDeploy_ReloadFailureStopsAtFirstError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upstream.Commit(t, "Automations and scripts", gittest.Files{
		"automations.yaml": "- id: a\n",
		"scripts.yaml":     "s: {}\n",
	})

	timeout := errors.New("reload timed out: automation after 30s")
	gomock.InOrder(
		h.host.EXPECT().ValidateConfiguration(gomock.Any()).Return(nil),
		h.host.EXPECT().ReloadSubsystem(gomock.Any(), "automation").Return(timeout),
	)

	state, err := h.coord.Deploy(context.Background(), webhookTrigger(), nil)
	require.Error(t, err)
	assert.Equal(t, deploy.KindReloadFailed, deploy.KindOf(err))
	assert.ErrorIs(t, err, timeout)
	assert.Equal(t, deploy.StatusFailed, state.Status)
	assert.Contains(t, state.Error, "Failed to reload automation")
	assert.Equal(t, []string{"automation", "script"}, state.ReloadDomains)
}

func TestDeploy_AlreadyUpToDate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	before := h.coord.DeploymentState()
	require.Equal(t, git.ShortSHA(h.local.Head(t)), before.CommitSHA)
	h.host.EXPECT().ValidateConfiguration(gomock.Any()).Return(nil)

	rec := &recorder{}
	state, err := h.coord.Deploy(context.Background(), webhookTrigger(), rec.sink)
	require.NoError(t, err)

	assert.Equal(t, deploy.StatusSuccess, state.Status)
	assert.Empty(t, state.ChangedFiles)
	assert.Empty(t, state.ReloadDomains)
	assert.Equal(t, before.CommitSHA, state.CommitSHA)
	assert.Equal(t, before.CommitMessage, state.CommitMessage)

	reloading, _ := rec.find(deploy.EventReloading)
	assert.Equal(t, "No domains to reload", reloading.Message)
}

func TestDeploy_SerializesConcurrentTriggers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upstream.Commit(t, "Automation", gittest.Files{"automations.yaml": "- id: first\n"})

	release := make(chan struct{})
	entered := make(chan struct{})
	var calls int
	h.host.EXPECT().ValidateConfiguration(gomock.Any()).DoAndReturn(func(context.Context) error {
		calls++
		if calls == 1 {
			close(entered)
			<-release
		}
		return nil
	}).Times(2)
	h.host.EXPECT().ReloadSubsystem(gomock.Any(), "automation").Return(nil)

	first := &recorder{}
	second := &recorder{}
	var wg sync.WaitGroup
	var firstState, secondState deploy.DeploymentState

	wg.Add(1)
	go func() {
		defer wg.Done()
		firstState, _ = h.coord.Deploy(context.Background(), webhookTrigger(), first.sink)
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		secondState, _ = h.coord.Deploy(context.Background(), webhookTrigger(), second.sink)
	}()

	// the second trigger waits for the guard and has not started
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, second.statuses())
	assert.Equal(t, deploy.StatusValidating, h.coord.DeploymentState().Status)

	close(release)
	wg.Wait()

	assert.Equal(t, deploy.StatusSuccess, firstState.Status)
	assert.Equal(t, deploy.StatusSuccess, secondState.Status)
	assert.NotEqual(t, firstState.AttemptID, secondState.AttemptID)
	assert.Equal(t, []string{"automations.yaml"}, firstState.ChangedFiles)
	assert.Empty(t, secondState.ChangedFiles)
	assert.Equal(t, deploy.EventStarted, second.statuses()[0])
}

func TestDeploy_WaitAbandonedOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	h.host.EXPECT().ValidateConfiguration(gomock.Any()).DoAndReturn(func(context.Context) error {
		close(entered)
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.coord.Deploy(context.Background(), webhookTrigger(), nil)
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := &recorder{}
	_, err := h.coord.Deploy(ctx, webhookTrigger(), rec.sink)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, deploy.KindOf(err))
	assert.Empty(t, rec.statuses())

	close(release)
	<-done
}

func TestQueries(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.ErrorIs(t, h.coord.CheckReadiness(context.Background()), deploy.ErrNotReady)

	h.registry.Raise(context.Background(), conditions.DriftDetected, conditions.SeverityWarning, nil)
	require.Len(t, h.coord.ListConditions(), 1)
	assert.True(t, h.coord.AcknowledgeCondition(context.Background(), conditions.DriftDetected))
	assert.False(t, h.coord.AcknowledgeCondition(context.Background(), conditions.DriftDetected))
	assert.Empty(t, h.coord.ListConditions())

	records, err := h.coord.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	h.start(t)
	assert.NoError(t, h.coord.CheckReadiness(context.Background()))
}

func TestHistory_Disabled(t *testing.T) {
	t.Parallel()

	h := newHarnessWith(t, baseFiles, func(_ *harness, d *deploy.Dependencies) {
		d.History = nil
	}, func(*gittest.Repo) []deploy.Option { return nil })

	_, err := h.coord.History(context.Background(), 10)
	assert.ErrorIs(t, err, deploy.ErrHistoryDisabled)
}
