//go:build !linux

package platform

import (
	"log/slog"

	"finch/internal/broadcast"
)

type noopService struct{}

func NewService(_ broadcast.Controller, _ *slog.Logger) Service {
	return &noopService{}
}

func (s *noopService) Start() error {
	return nil
}

func (s *noopService) Stop() error {
	return nil
}

func (s *noopService) Name() string {
	return "platform"
}

func (s *noopService) Notify(_ broadcast.Snapshot) error {
	return nil
}
