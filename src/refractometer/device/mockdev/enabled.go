//go:build debug

// Package mockdev lets debug builds list ports that discovery does not find,
// typically one end of a pseudo-terminal pair driven by an instrument
// simulator (`socat -d -d pty,raw,echo=0 pty,raw,echo=0`).
package mockdev

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	serialenum "go.bug.st/serial/enumerator"
)

type MockDeviceId int

var ErrDeviceNotFound = errors.New("mock device id not found")
var ErrDeviceExists = errors.New("a mock device with this path is already registered")

type MockDeviceRegistry struct {
	log *logrus.Entry

	mutex                 sync.Mutex
	registeredMockDevices map[MockDeviceId]*serialenum.PortDetails
}

func New(log *logrus.Entry) *MockDeviceRegistry {
	log.Info("Mock device registry enabled (debug build)")
	return &MockDeviceRegistry{
		log:                   log,
		registeredMockDevices: make(map[MockDeviceId]*serialenum.PortDetails),
	}
}

func (h *MockDeviceRegistry) handlePost(w http.ResponseWriter, r *http.Request) {
	var portDetails serialenum.PortDetails
	if err := json.NewDecoder(r.Body).Decode(&portDetails); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	mockDeviceId, err := h.Register(portDetails)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"id": int(mockDeviceId)})
}

func (h *MockDeviceRegistry) handleDelete(w http.ResponseWriter, r *http.Request) {
	idStr := strings.Trim(r.URL.Path, "/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	if err := h.Unregister(MockDeviceId(id)); err != nil {
		if err == ErrDeviceNotFound {
			http.Error(w, "Device not found", http.StatusNotFound)
		} else {
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ServeHTTP registers a port on POST (PortDetails as JSON, at least "Name")
// and removes one on DELETE /<id>. Mount it with http.StripPrefix.
func (h *MockDeviceRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
		return
	case http.MethodDelete:
		h.handleDelete(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// ListMockDevices returns the registered ports in registration order.
func (h *MockDeviceRegistry) ListMockDevices() []*serialenum.PortDetails {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ids := make([]int, 0, len(h.registeredMockDevices))
	for id := range h.registeredMockDevices {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	ports := make([]*serialenum.PortDetails, 0, len(ids))
	for _, id := range ids {
		details := *h.registeredMockDevices[MockDeviceId(id)]
		ports = append(ports, &details)
	}
	return ports
}

func (h *MockDeviceRegistry) nextMockDeviceId() MockDeviceId {
	maxId := MockDeviceId(-1)
	for id := range h.registeredMockDevices {
		if id > maxId {
			maxId = id
		}
	}
	return maxId + 1
}

func (h *MockDeviceRegistry) Register(portDetails serialenum.PortDetails) (MockDeviceId, error) {
	if portDetails.Name == "" {
		return 0, errors.New("mock device needs a name (port path)")
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, registered := range h.registeredMockDevices {
		if registered.Name == portDetails.Name {
			return 0, ErrDeviceExists
		}
	}

	mockDeviceId := h.nextMockDeviceId()
	h.registeredMockDevices[mockDeviceId] = &portDetails
	h.log.WithField("id", mockDeviceId).WithField("path", portDetails.Name).Info("Registered mock device.")

	return mockDeviceId, nil
}

func (h *MockDeviceRegistry) Unregister(mockDeviceId MockDeviceId) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.registeredMockDevices[mockDeviceId]; !ok {
		return ErrDeviceNotFound
	}
	delete(h.registeredMockDevices, mockDeviceId)
	h.log.WithField("id", mockDeviceId).Info("Unregistered mock device.")
	return nil
}
