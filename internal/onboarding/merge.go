package onboarding

import (
	"bytes"
)

// MergeProgress 以并集合并本地与远端的完成步骤。
// 完成步骤只增不减，所以结果与合并顺序无关；不修改入参。
func MergeProgress(catalog *Catalog, local *OnboardingProgress, remote *RemoteProgress) *OnboardingProgress {
	out := local.Clone()
	if remote == nil {
		return out
	}

	remoteSet := NewIDSet(remote.CompletedSteps...)
	union := local.CompletedStepIDs.Union(remoteSet)
	out.CompletedStepIDs = union
	out.rebase(catalog)

	if len(union) > len(local.CompletedStepIDs) {
		out.Revision++
	}
	if remote.LastUpdated.After(out.LastUpdated) {
		out.LastUpdated = remote.LastUpdated
	}

	if covers(remoteSet, union) {
		out.SyncState = StateSynced
	} else {
		out.SyncState = StateDiverged
	}
	return out
}

func covers(have, want IDSet) bool {
	for id := range want {
		if !have.Has(id) {
			return false
		}
	}
	return true
}

// MergeAnswers 按问题 id 取并集，同一问题保留 AnsweredAt 较新的答案，
// 时间相同则比较原始值，保证 merge(a,b) == merge(b,a)。
// localChanged 表示本地集合被远端改变；remoteCovers 表示远端已包含合并结果。
func MergeAnswers(local *AnswerSet, remote []Answer) (merged *AnswerSet, localChanged bool, remoteCovers bool) {
	merged = local.Clone()

	remoteByID := make(map[string]Answer, len(remote))
	for _, a := range remote {
		if a.QuestionID == "" || ValidateValue(a.Value) != nil {
			continue
		}
		if prev, ok := remoteByID[a.QuestionID]; ok && !newerAnswer(a, prev) {
			continue
		}
		remoteByID[a.QuestionID] = a
	}

	// 按远端顺序追加新问题，结果顺序稳定
	for _, a := range remote {
		winner, ok := remoteByID[a.QuestionID]
		if !ok || !winner.AnsweredAt.Equal(a.AnsweredAt) || !bytes.Equal(winner.Value, a.Value) {
			continue
		}
		prev, exists := merged.Get(a.QuestionID)
		if exists && !newerAnswer(winner, prev) {
			continue
		}
		if merged.Put(winner) {
			localChanged = true
		}
	}

	remoteCovers = true
	for _, a := range merged.List() {
		r, ok := remoteByID[a.QuestionID]
		if !ok || !bytes.Equal(r.Value, a.Value) {
			remoteCovers = false
			break
		}
	}
	return merged, localChanged, remoteCovers
}

// newerAnswer a 是否应当覆盖 b
func newerAnswer(a, b Answer) bool {
	if !a.AnsweredAt.Equal(b.AnsweredAt) {
		return a.AnsweredAt.After(b.AnsweredAt)
	}
	return bytes.Compare(a.Value, b.Value) > 0
}
