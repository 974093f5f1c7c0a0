package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KinLink/pkg/breaker"
)

var errOffline = errors.New("network unreachable")

// fakeRemote 内存中的远端，行为与服务端一致：进度并集，答案按时间覆盖
type fakeRemote struct {
	mu        sync.Mutex
	progress  *RemoteProgress
	answers   *AnswerSet
	completed bool
	err       error
	block     bool
	calls     map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{answers: NewAnswerSet(), calls: make(map[string]int)}
}

func (f *fakeRemote) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	err, block := f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeRemote) FetchProgress(ctx context.Context, _ string) (*RemoteProgress, error) {
	if err := f.enter(ctx, "fetch_progress"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progress == nil {
		return nil, nil
	}
	cp := *f.progress
	cp.CompletedSteps = append([]string(nil), f.progress.CompletedSteps...)
	return &cp, nil
}

func (f *fakeRemote) PushProgress(ctx context.Context, _ string, p RemoteProgress) error {
	if err := f.enter(ctx, "push_progress"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set := NewIDSet(p.CompletedSteps...)
	if f.progress != nil {
		set = set.Union(NewIDSet(f.progress.CompletedSteps...))
	}
	p.CompletedSteps = set.Sorted()
	f.progress = &p
	return nil
}

func (f *fakeRemote) SaveAnswer(ctx context.Context, userID string, a Answer) error {
	return f.saveAnswers(ctx, "save_answer", []Answer{a})
}

func (f *fakeRemote) SaveAnswers(ctx context.Context, _ string, answers []Answer) error {
	return f.saveAnswers(ctx, "save_answers", answers)
}

func (f *fakeRemote) saveAnswers(ctx context.Context, op string, answers []Answer) error {
	if err := f.enter(ctx, op); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers, _, _ = MergeAnswers(f.answers, answers)
	return nil
}

func (f *fakeRemote) FetchAnswers(ctx context.Context, _ string) ([]Answer, error) {
	if err := f.enter(ctx, "fetch_answers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answers.List(), nil
}

func (f *fakeRemote) MarkComplete(ctx context.Context, _ string) error {
	if err := f.enter(ctx, "mark_complete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	return nil
}

func newTestCoordinator(t *testing.T, remote Remote, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	clock := newTestClock()
	kv := NewMemoryKV()
	progress := NewProgressStore(kv, DefaultCatalog(), WithClock(clock.Now))
	answers := NewAnswerStore(kv, defaultCalculator(), WithClock(clock.Now))
	c := NewCoordinator(progress, answers, remote, opts...)
	t.Cleanup(c.Wait)
	return c
}

func TestCoordinatorCompleteStepSyncs(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	p, res, err := c.CompleteStep(ctx, "u1", "welcome")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, StateSynced, p.SyncState)
	assert.Equal(t, []string{"welcome"}, remote.progress.CompletedSteps)
	assert.Equal(t, 2, remote.progress.CurrentStep)

	_, res, err = c.CompleteStep(ctx, "u1", "welcome")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 1, remote.count("push_progress"), "unchanged synced record is not pushed again")
}

func TestCoordinatorOfflineKeepsLocalWrite(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr(errOffline)
	c := newTestCoordinator(t, remote, WithBreaker(breaker.New("test", 10, time.Minute)))
	ctx := context.Background()

	p, res, err := c.CompleteStep(ctx, "u1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, SyncDeferred, res.Status)
	assert.Contains(t, res.Reason, errOffline.Error())
	assert.Equal(t, StateDiverged, p.SyncState)
	assert.True(t, p.CompletedStepIDs.Has("welcome"))

	// 下一次显式调用即重试
	remote.setErr(nil)
	p, res, err = c.CompleteStep(ctx, "u1", "welcome")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, StateSynced, p.SyncState)
	assert.Equal(t, []string{"welcome"}, remote.progress.CompletedSteps)
}

func TestCoordinatorRemoteTimeout(t *testing.T) {
	remote := newFakeRemote()
	remote.block = true
	c := newTestCoordinator(t, remote, WithRemoteTimeout(20*time.Millisecond))

	p, res, err := c.CompleteStep(context.Background(), "u1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Status: SyncDeferred, Reason: "timeout"}, res)
	assert.True(t, p.CompletedStepIDs.Has("welcome"))
}

func TestCoordinatorCircuitOpen(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr(errOffline)
	c := newTestCoordinator(t, remote, WithBreaker(breaker.New("test", 1, time.Hour)))
	ctx := context.Background()

	_, _, err := c.CompleteStep(ctx, "u1", "welcome")
	require.NoError(t, err)
	_, res, err := c.CompleteStep(ctx, "u1", "basic_info")
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Status: SyncDeferred, Reason: "circuit open"}, res)
	assert.Equal(t, 1, remote.count("push_progress"))
}

func TestCoordinatorWithoutRemote(t *testing.T) {
	c := newTestCoordinator(t, nil)

	p, res, err := c.CompleteStep(context.Background(), "u1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, SyncDeferred, res.Status)
	assert.True(t, p.CompletedStepIDs.Has("welcome"))

	_, err = c.Load(context.Background(), "u1")
	require.NoError(t, err)
}

func TestCoordinatorLoadRefreshesInBackground(t *testing.T) {
	remote := newFakeRemote()
	remote.progress = &RemoteProgress{CompletedSteps: []string{"welcome", "basic_info"}}
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	_, err := c.progress.CompleteStep(ctx, "u1", "basic_info")
	require.NoError(t, err)
	_, err = c.progress.CompleteStep(ctx, "u1", "profile_photo")
	require.NoError(t, err)

	p, err := c.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"basic_info", "profile_photo"}, p.CompletedStepIDs.Sorted(), "local data is returned first")

	c.Wait()

	p, err = c.Load(ctx, "u1")
	require.NoError(t, err)
	c.Wait()
	assert.Equal(t, []string{"basic_info", "profile_photo", "welcome"}, p.CompletedStepIDs.Sorted())
	assert.Equal(t, StateSynced, p.SyncState)
	assert.Equal(t, []string{"basic_info", "profile_photo", "welcome"}, remote.progress.CompletedSteps)
}

func TestCoordinatorLoadInitializesLocalOnly(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr(errOffline)
	c := newTestCoordinator(t, remote)

	p, err := c.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, StateLocalOnly, p.SyncState)
	assert.Equal(t, 1, p.CurrentStepOrder)
}

func TestCoordinatorRefreshNotFoundPushesLocal(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	_, err := c.progress.CompleteStep(ctx, "u1", "welcome")
	require.NoError(t, err)

	p, res, err := c.Refresh(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, StateSynced, p.SyncState)
	require.NotNil(t, remote.progress)
	assert.Equal(t, []string{"welcome"}, remote.progress.CompletedSteps)
}

func TestCoordinatorAnswerQuestion(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	st, res, err := c.AnswerQuestion(ctx, "u1", Answer{QuestionID: "preferred_name", Value: raw("Bea")})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, StateSynced, st.SyncState)
	assert.Equal(t, 1, remote.count("save_answers"), "first write sends the full set")

	st, res, err = c.AnswerQuestion(ctx, "u1", Answer{QuestionID: "birth_date", Value: raw("1950-02-03")})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, StateSynced, st.SyncState)
	assert.Equal(t, 1, remote.count("save_answer"), "single change on a synced set is sent alone")
	assert.Equal(t, 2, remote.answers.Len())
}

func TestCoordinatorAnswerQuestionsInvalidValue(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(t, remote)

	_, _, err := c.AnswerQuestions(context.Background(), "u1", []Answer{{QuestionID: "faith", Value: []byte("null")}})
	assert.ErrorIs(t, err, ErrInvalidAnswerValue)
	assert.Equal(t, 0, remote.count("save_answers"))
}

func TestCoordinatorRefreshAnswersMerges(t *testing.T) {
	remote := newFakeRemote()
	remote.answers = NewAnswerSet(Answer{QuestionID: "hobbies", Value: raw("golf"), AnsweredAt: testEpoch})
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	_, _, err := c.answers.Put(ctx, "u1", answerIDs("faith"))
	require.NoError(t, err)

	st, res, err := c.RefreshAnswers(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, StateSynced, st.SyncState)
	assert.Equal(t, 2, st.Answers.Len())
	assert.Equal(t, 2, remote.answers.Len())
}

func TestCoordinatorLoadAnswersInBackground(t *testing.T) {
	remote := newFakeRemote()
	remote.answers = NewAnswerSet(Answer{QuestionID: "hobbies", Value: raw("golf"), AnsweredAt: testEpoch})
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	st, err := c.LoadAnswers(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Answers.Len())

	c.Wait()
	st, _, err = c.answers.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Answers.Len())
	assert.Equal(t, StateSynced, st.SyncState)
}

func TestCoordinatorCompleteOnboarding(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	_, _, err := c.CompleteOnboarding(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotReady)

	ids := append(append(append([]string{}, essentialRequiredIDs...), coreIDs...), richIDs[:5]...)
	remote.setErr(errOffline)
	_, res, err := c.AnswerQuestions(ctx, "u1", answerIDs(ids...))
	require.NoError(t, err)
	require.Equal(t, SyncDeferred, res.Status)

	st, res, err := c.CompleteOnboarding(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, SyncDeferred, res.Status)
	assert.True(t, st.IsCompleted)
	assert.False(t, st.CompletionSynced)

	remote.setErr(nil)
	st, res, err = c.CompleteOnboarding(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.True(t, st.CompletionSynced)
	assert.Equal(t, StateSynced, st.SyncState)
	assert.True(t, remote.completed)
	assert.Equal(t, len(ids), remote.answers.Len(), "answers are pushed before completion")

	_, res, err = c.CompleteOnboarding(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 1, remote.count("mark_complete"), "acknowledged completion is not sent again")
}

func TestCoordinatorSnapshot(t *testing.T) {
	c := newTestCoordinator(t, newFakeRemote())
	ctx := context.Background()

	snap, err := c.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Percentage)
	require.NotNil(t, snap.NextStep)
	assert.Equal(t, "welcome", snap.NextStep.ID)
	require.NotNil(t, snap.NextQuestion)
	assert.Equal(t, "preferred_name", snap.NextQuestion.ID)

	_, found, err := c.progress.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found, "snapshot does not write")

	_, _, err = c.answers.Put(ctx, "u1", answerIDs(essentialRequiredIDs...))
	require.NoError(t, err)
	snap, err = c.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, snap.Summary.TotalPercent)
	assert.Equal(t, "family_values", snap.NextQuestion.ID)
}

func TestCoordinatorResetIsLocal(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	_, _, err := c.CompleteStep(ctx, "u1", "welcome")
	require.NoError(t, err)
	_, _, err = c.AnswerQuestion(ctx, "u1", Answer{QuestionID: "faith", Value: raw("x")})
	require.NoError(t, err)

	p, err := c.ResetProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, p.CompletedStepIDs)
	assert.Equal(t, StateLocalOnly, p.SyncState)

	st, found, err := c.answers.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, st.Answers.Len())

	assert.Equal(t, []string{"welcome"}, remote.progress.CompletedSteps)
	assert.Equal(t, 1, remote.answers.Len())
}

func TestCoordinatorEmptyUserID(t *testing.T) {
	c := newTestCoordinator(t, newFakeRemote())
	ctx := context.Background()

	_, _, err := c.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
	_, err = c.Load(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
	_, _, err = c.AnswerQuestion(ctx, "", Answer{QuestionID: "faith", Value: raw("x")})
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

// pausingKV 第一次读取进度后暂停，直到 resume 被关闭
type pausingKV struct {
	*MemoryKV
	once   sync.Once
	paused chan struct{}
	resume chan struct{}
}

func (k *pausingKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := k.MemoryKV.Get(ctx, key)
	if key == ProgressKey("u1") {
		k.once.Do(func() {
			close(k.paused)
			<-k.resume
		})
	}
	return data, err
}

func TestCoordinatorLoadDoesNotWipeConcurrentCompletion(t *testing.T) {
	kv := &pausingKV{MemoryKV: NewMemoryKV(), paused: make(chan struct{}), resume: make(chan struct{})}
	clock := newTestClock()
	store := NewProgressStore(kv, DefaultCatalog(), WithClock(clock.Now))
	c := NewCoordinator(store, NewAnswerStore(kv, defaultCalculator(), WithClock(clock.Now)), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := c.Load(ctx, "u1")
		assert.NoError(t, err)
	}()

	<-kv.paused
	go func() {
		defer wg.Done()
		_, _, err := c.CompleteStep(ctx, "u1", "welcome")
		assert.NoError(t, err)
	}()
	close(kv.resume)
	wg.Wait()

	p, found, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"welcome"}, p.CompletedStepIDs.Sorted())
}

// rejection 远端已收到请求但拒绝处理
type rejection struct{ status int }

func (r rejection) Error() string  { return fmt.Sprintf("remote returned %d", r.status) }
func (r rejection) Rejected() bool { return true }

func TestCoordinatorRejectionDoesNotOpenCircuit(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr(rejection{status: 409})
	cb := breaker.New("test", 1, time.Hour)
	c := newTestCoordinator(t, remote, WithBreaker(cb))
	ctx := context.Background()

	_, res, err := c.CompleteStep(ctx, "u1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Status: SyncDeferred, Reason: "remote returned 409"}, res)

	p, res, err := c.CompleteStep(ctx, "u1", "basic_info")
	require.NoError(t, err)
	assert.Equal(t, SyncDeferred, res.Status)
	assert.NotEqual(t, "circuit open", res.Reason)
	assert.Equal(t, StateDiverged, p.SyncState)
	assert.Equal(t, 2, remote.count("push_progress"))
	assert.Equal(t, breaker.StateClosed, cb.State())
}

func TestCoordinatorUnknownAnswersOnFreshUser(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(t, remote)

	st, res, err := c.AnswerQuestions(context.Background(), "u1", answerIDs("no_such_question"))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 0, st.Answers.Len())
	assert.Equal(t, 0, remote.count("save_answers"))
	assert.Equal(t, 0, remote.count("save_answer"))
}

func TestCoordinatorSnapshotUsesStoreClock(t *testing.T) {
	c := newTestCoordinator(t, newFakeRemote())

	snap, err := c.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, snap.Progress.LastUpdated.After(testEpoch))
	assert.True(t, snap.Progress.LastUpdated.Before(testEpoch.Add(time.Minute)))
}
