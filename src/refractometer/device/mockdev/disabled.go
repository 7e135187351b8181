//go:build !debug

package mockdev

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	serialenum "go.bug.st/serial/enumerator"
)

type MockDeviceId int

var errDisabled = errors.New("mock devices are only available in debug builds")

type MockDeviceRegistry struct {
}

func New(log *logrus.Entry) *MockDeviceRegistry {
	return &MockDeviceRegistry{}
}

func (h *MockDeviceRegistry) ListMockDevices() []*serialenum.PortDetails {
	return nil
}

func (h *MockDeviceRegistry) Register(portDetails serialenum.PortDetails) (MockDeviceId, error) {
	return 0, errDisabled
}

func (h *MockDeviceRegistry) Unregister(mockDeviceId MockDeviceId) error {
	return errDisabled
}

// Mock device registration is only available in debug builds.
func (h *MockDeviceRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Mock device registration is not available in production builds", http.StatusForbidden)
}
