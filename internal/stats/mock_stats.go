package stats

import "github.com/stretchr/testify/mock"

var _ Recorder = (*MockRecorder)(nil)

// MockRecorder records counter updates. Tests that do not care about
// metrics register its methods with Maybe.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RegisterMetric(name string) { m.Called(name) }

func (m *MockRecorder) Incr(name string) { m.Called(name) }

func (m *MockRecorder) Decr(name string) { m.Called(name) }

func (m *MockRecorder) Run() { m.Called() }
