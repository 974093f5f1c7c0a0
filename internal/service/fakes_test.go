package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"KinLink/internal/model"
	"KinLink/internal/repository"
)

type fakeUsers struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*model.User
	profile map[int64]map[string]interface{}
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[int64]*model.User{}, profile: map[int64]map[string]interface{}{}}
}

func (f *fakeUsers) find(publicID int64) *model.User {
	for _, u := range f.byID {
		if u.PublicID == publicID {
			return u
		}
	}
	return nil
}

func (f *fakeUsers) GetByPublicID(_ context.Context, publicID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.find(publicID); u != nil {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) Ensure(_ context.Context, publicID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.find(publicID); u != nil {
		cp := *u
		return &cp, nil
	}
	f.nextID++
	u := &model.User{PublicID: publicID, Status: model.UserStatusOnboarding}
	u.ID = f.nextID
	f.byID[u.ID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id int64, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profile[id] == nil {
		f.profile[id] = map[string]interface{}{}
	}
	for k, v := range fields {
		f.profile[id][k] = v
	}
	return nil
}

func (f *fakeUsers) MarkActive(_ context.Context, id int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok || u.Status == model.UserStatusActive {
		return false, nil
	}
	u.Status = model.UserStatusActive
	u.OnboardedAt = &at
	return true, nil
}

type fakeProgress struct {
	rows map[int64]model.OnboardingProgress
}

func (f *fakeProgress) Get(_ context.Context, userID int64) (*model.OnboardingProgress, error) {
	if r, ok := f.rows[userID]; ok {
		return &r, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProgress) Upsert(_ context.Context, p *model.OnboardingProgress) error {
	if f.rows == nil {
		f.rows = map[int64]model.OnboardingProgress{}
	}
	f.rows[p.UserID] = *p
	return nil
}

func (f *fakeProgress) steps(userID int64) []string {
	var out []string
	_ = json.Unmarshal(f.rows[userID].CompletedSteps, &out)
	return out
}

type fakeAnswers struct {
	rows    []model.OnboardingAnswer
	upserts int
}

func (f *fakeAnswers) List(_ context.Context, userID int64) ([]model.OnboardingAnswer, error) {
	var out []model.OnboardingAnswer
	for _, r := range f.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAnswers) UpsertMany(_ context.Context, answers []model.OnboardingAnswer) error {
	f.upserts++
	for _, a := range answers {
		replaced := false
		for i, r := range f.rows {
			if r.UserID == a.UserID && r.QuestionID == a.QuestionID {
				f.rows[i] = a
				replaced = true
			}
		}
		if !replaced {
			f.rows = append(f.rows, a)
		}
	}
	return nil
}

type fakeCompletions struct {
	byUser    map[int64]*model.OnboardingCompletion
	nextID    int64
	published []int64
}

func newFakeCompletions() *fakeCompletions {
	return &fakeCompletions{byUser: map[int64]*model.OnboardingCompletion{}}
}

func (f *fakeCompletions) Get(_ context.Context, userID int64) (*model.OnboardingCompletion, error) {
	if c, ok := f.byUser[userID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCompletions) CreateIfAbsent(_ context.Context, c *model.OnboardingCompletion) (bool, error) {
	if _, ok := f.byUser[c.UserID]; ok {
		return false, nil
	}
	f.nextID++
	c.ID = f.nextID
	cp := *c
	f.byUser[c.UserID] = &cp
	return true, nil
}

func (f *fakeCompletions) MarkPublished(_ context.Context, id int64, at time.Time) error {
	for _, c := range f.byUser {
		if c.ID == id {
			c.PublishedAt = &at
			f.published = append(f.published, id)
		}
	}
	return nil
}

func (f *fakeCompletions) ListUnpublished(_ context.Context, olderThan time.Time, limit int) ([]model.OnboardingCompletion, error) {
	var out []model.OnboardingCompletion
	for _, c := range f.byUser {
		if c.PublishedAt == nil && !c.CompletedAt.After(olderThan) && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

type fakeEvents struct {
	sent []model.OnboardingCompletedMessage
	err  error
}

func (f *fakeEvents) PublishOnboardingCompleted(_ context.Context, msg model.OnboardingCompletedMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// memCache 模拟 ProtectedCache 的空值语义
type memCache struct {
	data    map[string][]byte
	deletes []string
	broken  bool
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

var errCacheDown = errors.New("cache down")

func (c *memCache) Get(_ context.Context, key string, dest interface{}) (bool, bool, error) {
	if c.broken {
		return false, false, errCacheDown
	}
	v, ok := c.data[key]
	if !ok {
		return false, false, nil
	}
	if v == nil {
		return true, true, nil
	}
	return true, false, json.Unmarshal(v, dest)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}) error {
	if c.broken {
		return errCacheDown
	}
	if value == nil {
		c.data[key] = nil
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.deletes = append(c.deletes, key)
	if c.broken {
		return errCacheDown
	}
	delete(c.data, key)
	return nil
}
