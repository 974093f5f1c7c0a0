package onboarding

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAnswerStore(t *testing.T) (*AnswerStore, *MemoryKV) {
	t.Helper()
	kv := NewMemoryKV()
	return NewAnswerStore(kv, defaultCalculator(), WithClock(newTestClock().Now)), kv
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, ValidateValue(raw("x")))
	assert.NoError(t, ValidateValue(raw(3)))
	assert.NoError(t, ValidateValue(raw([]string{})))
	assert.ErrorIs(t, ValidateValue(nil), ErrInvalidAnswerValue)
	assert.ErrorIs(t, ValidateValue([]byte(" null ")), ErrInvalidAnswerValue)
	assert.ErrorIs(t, ValidateValue([]byte("{oops")), ErrInvalidAnswerValue)
}

func TestAnswerStoreLoadEmpty(t *testing.T) {
	store, _ := mustAnswerStore(t)

	st, found, err := store.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, st.Answers.Len())
	assert.Equal(t, PhaseEssential, st.Phase)
	assert.Equal(t, StateLocalOnly, st.SyncState)
}

func TestAnswerStorePut(t *testing.T) {
	store, _ := mustAnswerStore(t)
	ctx := context.Background()

	st, changed, err := store.Put(ctx, "u1", answerIDs(essentialRequiredIDs...))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 8, st.Answers.Len())
	assert.Equal(t, PhaseCore, st.Phase)
	assert.Equal(t, StateDiverged, st.SyncState)
	assert.Equal(t, int64(1), st.Revision)

	a, ok := st.Answers.Get("birth_date")
	require.True(t, ok)
	assert.Equal(t, PhaseEssential, a.Phase)
	assert.False(t, a.AnsweredAt.IsZero())

	loaded, found, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, essentialRequiredIDs, idsOf(loaded.Answers))
}

func TestAnswerStorePutSameValueIsNoop(t *testing.T) {
	store, _ := mustAnswerStore(t)
	ctx := context.Background()

	first, _, err := store.Put(ctx, "u1", answerIDs("hobbies"))
	require.NoError(t, err)
	second, changed, err := store.Put(ctx, "u1", answerIDs("hobbies"))
	require.NoError(t, err)

	assert.False(t, changed)
	assert.Equal(t, first.Revision, second.Revision)
}

func TestAnswerStoreOverwriteKeepsPosition(t *testing.T) {
	store, _ := mustAnswerStore(t)
	ctx := context.Background()

	_, _, err := store.Put(ctx, "u1", answerIDs("hobbies", "faith"))
	require.NoError(t, err)
	st, changed, err := store.Put(ctx, "u1", []Answer{{QuestionID: "hobbies", Value: raw([]string{"chess"})}})
	require.NoError(t, err)

	assert.True(t, changed)
	assert.Equal(t, []string{"hobbies", "faith"}, idsOf(st.Answers))
	a, _ := st.Answers.Get("hobbies")
	assert.JSONEq(t, `["chess"]`, string(a.Value))
}

func TestAnswerStoreBatchIsAtomic(t *testing.T) {
	store, _ := mustAnswerStore(t)
	ctx := context.Background()

	_, _, err := store.Put(ctx, "u1", []Answer{
		{QuestionID: "hobbies", Value: raw("x")},
		{QuestionID: "faith", Value: []byte("null")},
	})
	assert.ErrorIs(t, err, ErrInvalidAnswerValue)

	_, found, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAnswerStoreUnknownQuestionIgnored(t *testing.T) {
	store, _ := mustAnswerStore(t)

	st, changed, err := store.Put(context.Background(), "u1", answerIDs("no_such_question", "faith"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"faith"}, idsOf(st.Answers))
}

func TestAnswerStoreKeepsExplicitTimestamp(t *testing.T) {
	store, _ := mustAnswerStore(t)
	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	st, _, err := store.Put(context.Background(), "u1", []Answer{{QuestionID: "faith", Value: raw("x"), AnsweredAt: at}})
	require.NoError(t, err)
	a, _ := st.Answers.Get("faith")
	assert.True(t, at.Equal(a.AnsweredAt))
}

func TestAnswerStoreReconcile(t *testing.T) {
	store, _ := mustAnswerStore(t)
	ctx := context.Background()

	_, _, err := store.Put(ctx, "u1", answerIDs("hobbies"))
	require.NoError(t, err)

	st, err := store.Reconcile(ctx, "u1", []Answer{{QuestionID: "faith", Value: raw("y"), AnsweredAt: testEpoch}})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Answers.Len())
	assert.Equal(t, StateDiverged, st.SyncState)

	local, _, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	st, err = store.Reconcile(ctx, "u1", local.Answers.List())
	require.NoError(t, err)
	assert.Equal(t, StateSynced, st.SyncState)
}

func TestAnswerStoreMarkCompleted(t *testing.T) {
	store, _ := mustAnswerStore(t)
	ctx := context.Background()

	st, err := store.MarkCompleted(ctx, "u1", false)
	require.NoError(t, err)
	assert.True(t, st.IsCompleted)
	assert.False(t, st.CompletionSynced)

	st, err = store.MarkCompleted(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, st.CompletionSynced)

	st, err = store.MarkCompleted(ctx, "u1", false)
	require.NoError(t, err)
	assert.True(t, st.CompletionSynced, "remote acknowledgement is kept")
}

func TestAnswerStoreReset(t *testing.T) {
	store, kv := mustAnswerStore(t)
	ctx := context.Background()

	_, _, err := store.Put(ctx, "u1", answerIDs("hobbies"))
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "u1"))

	_, err = kv.Get(ctx, AnswersKey("u1"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAnswerStateWireFormat(t *testing.T) {
	store, kv := mustAnswerStore(t)
	ctx := context.Background()
	_, _, err := store.Put(ctx, "u1", answerIDs("faith", "hobbies"))
	require.NoError(t, err)

	data, err := kv.Get(ctx, AnswersKey("u1"))
	require.NoError(t, err)

	var decoded struct {
		Answers []struct {
			QuestionID string `json:"question_id"`
			Phase      string `json:"phase"`
		} `json:"answers"`
		Phase     string `json:"phase"`
		SyncState string `json:"sync_state"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Answers, 2)
	assert.Equal(t, "faith", decoded.Answers[0].QuestionID)
	assert.Equal(t, "core", decoded.Answers[0].Phase)
	assert.Equal(t, "essential", decoded.Phase)
	assert.Equal(t, "diverged", decoded.SyncState)
}
