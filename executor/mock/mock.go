// Package mock provides a testify mock of the device-compute collaborator.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) Execute(ctx context.Context, tid celerity.TaskID, chunk grid.Subrange) error {
	args := m.Called(ctx, tid, chunk)
	return args.Error(0)
}
