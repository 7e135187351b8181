package protocol

import (
	"encoding/json"
	"errors"

	"github.com/dividat/refractometer/src/refractometer/acquisition"
	"github.com/dividat/refractometer/src/refractometer/device"
)

// REMOTE VIEW PROTOCOL

// Command sent by a client
type Command struct {
	*GetStatus
	*ListPorts

	*Start
	*Stop

	*SelectWorkPoint
}

func PrettyPrintCommand(command Command) string {
	if command.GetStatus != nil {
		return "GetStatus"
	} else if command.ListPorts != nil {
		return "ListPorts"
	} else if command.Start != nil {
		return "Start"
	} else if command.Stop != nil {
		return "Stop"
	} else if command.SelectWorkPoint != nil {
		return "SelectWorkPoint"
	}
	return "Unknown"
}

// GetStatus command
type GetStatus struct{}

// ListPorts command
type ListPorts struct{}

// Start command, WorkPoint is optional and keeps the current selection when empty
type Start struct {
	Port      string `json:"port"`
	WorkPoint string `json:"workPoint"`
}

// Stop command
type Stop struct{}

// SelectWorkPoint command
type SelectWorkPoint struct {
	WorkPoint string `json:"workPoint"`
}

// UnmarshalJSON implements encoding/json Unmarshaler interface
func (command *Command) UnmarshalJSON(data []byte) error {

	// Helper struct to get type
	temp := struct {
		Type string `json:"type"`
	}{}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	switch temp.Type {
	case "GetStatus":
		command.GetStatus = &GetStatus{}

	case "ListPorts":
		command.ListPorts = &ListPorts{}

	case "Start":
		if err := json.Unmarshal(data, &command.Start); err != nil {
			return err
		}
		if command.Start.Port == "" {
			return errors.New("start command needs a port")
		}

	case "Stop":
		command.Stop = &Stop{}

	case "SelectWorkPoint":
		if err := json.Unmarshal(data, &command.SelectWorkPoint); err != nil {
			return err
		}

	default:
		return errors.New("can not decode unknown command")
	}

	return nil
}

// A broadcast is a Message that it sent to all connected clients
type Broadcast struct {
	Message Message
}

func (broadcast *Broadcast) MarshalJSON() ([]byte, error) {
	temp := struct {
		Type    string  `json:"type"`
		Message Message `json:"message"`
	}{}
	temp.Type = "Broadcast"
	temp.Message = broadcast.Message

	return json.Marshal(&temp)
}

// Message sent to clients, either in response to a Command or as Broadcast
type Message struct {
	*Status
	Samples []acquisition.Sample
	*Ports
	Error *string
}

// Status is a message containing the state of the measurement
type Status struct {
	State     acquisition.State
	Port      *string
	WorkPoint string
	// seconds since the measurement started
	Elapsed float64
	Latest  *acquisition.Sample
	Fault   *string
	// identifies the machine the instrument is attached to
	Host string
}

// Ports lists the serial ports a measurement can be started on
type Ports struct {
	Ports []device.PortInfo
	// human readable summary, e.g. "Found 2 serial ports"
	Info string
}

func MakeError(err error) Message {
	msg := err.Error()
	return Message{Error: &msg}
}

// MarshalJSON ipmlements JSON encoder for messages
func (message *Message) MarshalJSON() ([]byte, error) {
	if message.Status != nil {
		status := struct {
			Type      string              `json:"type"`
			State     string              `json:"state"`
			Port      *string             `json:"port"`
			WorkPoint string              `json:"workPoint"`
			Elapsed   float64             `json:"elapsed"`
			Latest    *acquisition.Sample `json:"latest"`
			Fault     *string             `json:"fault,omitempty"`
			Host      string              `json:"host,omitempty"`
		}{
			Type:      "Status",
			State:     message.Status.State.String(),
			Port:      message.Status.Port,
			WorkPoint: message.Status.WorkPoint,
			Elapsed:   message.Status.Elapsed,
			Latest:    message.Status.Latest,
			Fault:     message.Status.Fault,
			Host:      message.Status.Host,
		}
		return json.Marshal(&status)

	} else if message.Samples != nil {
		return json.Marshal(&struct {
			Type    string               `json:"type"`
			Samples []acquisition.Sample `json:"samples"`
		}{
			Type:    "Samples",
			Samples: message.Samples,
		})

	} else if message.Ports != nil {
		ports := message.Ports.Ports
		if ports == nil {
			ports = []device.PortInfo{}
		}
		return json.Marshal(&struct {
			Type  string            `json:"type"`
			Ports []device.PortInfo `json:"ports"`
			Info  string            `json:"info"`
		}{
			Type:  "Ports",
			Ports: ports,
			Info:  message.Ports.Info,
		})

	} else if message.Error != nil {
		return json.Marshal(&struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{
			Type:    "Error",
			Message: *message.Error,
		})
	}

	return nil, errors.New("could not marshal message")

}
