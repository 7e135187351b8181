package device

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	serialenum "go.bug.st/serial/enumerator"

	"github.com/dividat/refractometer/src/refractometer/device/mockdev"
)

// ErrNoPort is returned when a measurement is started without a port.
var ErrNoPort = errors.New("no serial port selected")

// PortInfo describes a serial port the operator can pick.
type PortInfo struct {
	Path string `json:"path"`

	IsUSB     bool   `json:"isUsb"`
	IdVendor  uint16 `json:"idVendor,omitempty"`
	IdProduct uint16 `json:"idProduct,omitempty"`

	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

type Enumerator struct {
	log                *logrus.Entry
	mockDeviceRegistry *mockdev.MockDeviceRegistry
	list               func() ([]*serialenum.PortDetails, error)
}

func NewEnumerator(log *logrus.Entry, mockDeviceRegistry *mockdev.MockDeviceRegistry) *Enumerator {
	return &Enumerator{
		log:                log,
		mockDeviceRegistry: mockDeviceRegistry,
		list:               serialenum.GetDetailedPortsList,
	}
}

func (handle *Enumerator) getSerialPortList() ([]*serialenum.PortDetails, error) {
	realDevices, err := handle.list()
	if err != nil {
		return nil, err
	}

	mockDevices := handle.mockDeviceRegistry.ListMockDevices()

	return append(realDevices, mockDevices...), nil
}

// ListPorts returns all serial ports, sorted by path. Ports whose USB details
// can not be parsed are still listed, without them.
func (handle *Enumerator) ListPorts() ([]PortInfo, error) {
	ports, err := handle.getSerialPortList()
	if err != nil {
		handle.log.WithError(err).Info("Could not list serial devices.")
		return nil, err
	}

	infos := make([]PortInfo, 0, len(ports))
	for _, port := range ports {
		handle.log.WithField("name", port.Name).WithField("vendor", port.VID).Debug("Considering serial port.")

		info, err := portDetailsToInfo(*port)
		if err != nil {
			handle.log.WithField("port", port.Name).WithError(err).Warn("Failed to parse USB details of serial port.")
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Path < infos[j].Path
	})
	return infos, nil
}

// Paths lists the port paths, the values Session.Start accepts.
func Paths(ports []PortInfo) []string {
	paths := make([]string, len(ports))
	for i, port := range ports {
		paths[i] = port.Path
	}
	return paths
}

// Summary is the human readable port count shown to the operator.
func Summary(ports []PortInfo) string {
	if len(ports) == 1 {
		return "Found 1 serial port"
	}
	return fmt.Sprintf("Found %d serial ports", len(ports))
}

func portDetailsToInfo(port serialenum.PortDetails) (PortInfo, error) {
	info := PortInfo{
		Path:         port.Name,
		IsUSB:        port.IsUSB,
		SerialNumber: port.SerialNumber,
		Product:      port.Product,
	}
	if !port.IsUSB {
		return info, nil
	}

	idVendor, err := strconv.ParseUint(port.VID, 16, 16) // hex, uint16
	if err != nil {
		return info, err
	}
	idProduct, err := strconv.ParseUint(port.PID, 16, 16) // hex, uint16
	if err != nil {
		return info, err
	}
	info.IdVendor = uint16(idVendor)
	info.IdProduct = uint16(idProduct)
	return info, nil
}
