package platform

import (
	"github.com/stretchr/testify/mock"
)

// MockSystemController is a mock implementation of the SystemController interface.
type MockSystemController struct {
	mock.Mock
}

func (m *MockSystemController) ReadSysfs(path string) (string, error) {
	args := m.Called(path)
	return args.String(0), args.Error(1)
}
func (m *MockSystemController) WriteSysfs(path, value string) error {
	args := m.Called(path, value)
	return args.Error(0)
}
func (m *MockSystemController) IsNotExist(err error) bool {
	args := m.Called(err)
	return args.Bool(0)
}

// MockCarrierProbe is a mock implementation of the CarrierProbe interface.
type MockCarrierProbe struct {
	mock.Mock
}

func (m *MockCarrierProbe) SupportsCarrierDetect(name string) bool {
	args := m.Called(name)
	return args.Bool(0)
}
