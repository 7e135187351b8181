// Package websocket serves the remote view of a measurement over WebSocket.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cskr/pubsub"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dividat/refractometer/src/refractometer/protocol"
)

// Backend executes the commands clients send. Implementations must be safe
// for concurrent use, every connection calls it from its own goroutine.
type Backend interface {
	GetStatus() protocol.Status
	ListPorts() (protocol.Ports, error)
	Start(port string, workPoint string) error
	Stop()
	SelectWorkPoint(workPoint string) error
}

type Handle struct {
	Broker *pubsub.PubSub
	// topic carrying protocol.Message values meant for every client
	BrokerBroadcast string

	Log *logrus.Entry

	Backend Backend
}

func (handle *Handle) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	// Set up logger
	var log = handle.Log.WithFields(logrus.Fields{
		"clientAddress": r.RemoteAddr,
		"userAgent":     r.UserAgent(),
	})

	// Update to WebSocket
	conn, err := webSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("Could not upgrade connection to WebSocket.")
		return
	}

	log.Info("WebSocket connection opened")

	// Connection supports only one concurrent writer (https://godoc.org/github.com/gorilla/websocket#hdr-Concurrency)
	writeMutex := sync.Mutex{}

	// Create a context for this WebSocket connection
	ctx, cancel := context.WithCancel(context.Background())

	send := func(v interface{}) error {
		writeMutex.Lock()
		conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		err := conn.WriteJSON(v)
		writeMutex.Unlock()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Error("WebSocket error")
			}
			return err
		}
		return nil
	}

	sendMessage := func(message protocol.Message) error {
		return send(&message)
	}

	rx := handle.Broker.Sub(handle.BrokerBroadcast)

	go broadcastLoop(ctx, rx, send)

	// Helper function to close the connection
	close := func() {
		// Unsubscribe from broker, which blocks forever once the broker is shut down
		go handle.Broker.Unsub(rx)

		cancel()

		conn.Close()

		log.Info("WebSocket connection closed")
	}

	// Main loop for the WebSocket connection
	go func() {
		defer close()
		for {

			messageType, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Error("WebSocket error")
				}
				return
			}

			if messageType != websocket.TextMessage {
				log.Debug("Ignoring binary message.")
				continue
			}

			var command protocol.Command
			decodeErr := json.Unmarshal(msg, &command)
			if decodeErr != nil {
				log.WithField("rawCommand", string(msg)).WithError(decodeErr).Warning("Can not decode command.")
				if err := sendMessage(protocol.MakeError(decodeErr)); err != nil {
					return
				}
				continue
			}
			log.WithField("command", protocol.PrettyPrintCommand(command)).Debug("Received command.")

			if err := handle.dispatchCommand(log, command, sendMessage); err != nil {
				return
			}
		}
	}()

}

// HELPERS

// dispatchCommand executes a command and sends the response back up the
// WebSocket. Only failures to write are returned.
func (handle *Handle) dispatchCommand(log *logrus.Entry, command protocol.Command, sendMessage func(protocol.Message) error) error {

	if command.GetStatus != nil {
		status := handle.Backend.GetStatus()
		return sendMessage(protocol.Message{Status: &status})

	} else if command.ListPorts != nil {
		ports, err := handle.Backend.ListPorts()
		if err != nil {
			return sendMessage(protocol.MakeError(err))
		}
		return sendMessage(protocol.Message{Ports: &ports})

	} else if command.Start != nil {
		err := handle.Backend.Start(command.Start.Port, command.Start.WorkPoint)
		if err != nil {
			log.WithError(err).Info("Could not start measurement.")
			return sendMessage(protocol.MakeError(err))
		}

	} else if command.Stop != nil {
		handle.Backend.Stop()

	} else if command.SelectWorkPoint != nil {
		err := handle.Backend.SelectWorkPoint(command.SelectWorkPoint.WorkPoint)
		if err != nil {
			return sendMessage(protocol.MakeError(err))
		}
	}

	return nil
}

// broadcastLoop forwards messages published for all clients up the WebSocket
func broadcastLoop(ctx context.Context, rx chan interface{}, send func(interface{}) error) {
	for {
		select {
		case <-ctx.Done():
			return

		case i, ok := <-rx:
			if !ok {
				return
			}
			message, ok := i.(protocol.Message)
			if !ok {
				continue
			}
			if err := send(&protocol.Broadcast{Message: message}); err != nil {
				return
			}
		}
	}
}

// Helper to upgrade http to WebSocket
var webSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Check is performed by the server's origin middleware, and not repeated here.
		return true
	},
}
