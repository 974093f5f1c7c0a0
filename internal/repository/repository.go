package repository

import (
	stderrors "errors"

	"gorm.io/gorm"
)

// ErrNotFound 记录不存在，调用方按业务语义转换
var ErrNotFound = stderrors.New("record not found")

// Repos 聚合所有仓储
type Repos struct {
	Users       *UserRepository
	Progress    *ProgressRepository
	Answers     *AnswerRepository
	Completions *CompletionRepository
}

func NewRepos(db *gorm.DB) *Repos {
	return &Repos{
		Users:       NewUserRepository(db),
		Progress:    NewProgressRepository(db),
		Answers:     NewAnswerRepository(db),
		Completions: NewCompletionRepository(db),
	}
}

func notFound(err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
