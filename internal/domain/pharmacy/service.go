package pharmacy

import "context"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Profile(ctx context.Context) (*Profile, error) {
	return s.repo.Get(ctx)
}
