// Package server exposes the instrument backend over HTTP and announces it
// on the local network.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/libp2p/zeroconf/v2"
	"github.com/sirupsen/logrus"
)

// zeroconf service type of the remote view
const ServiceType = "_refractometer._tcp"

// salt for the protected machine id, keeps the raw id private
const machineIdAppId = "refractometer"

type Config struct {
	Address        string
	Zeroconf       bool
	AllowedOrigins []string
	Version        string
	Host           string
}

// HostID returns a stable id of this machine, falling back to the hostname.
func HostID(log *logrus.Entry) string {
	id, err := machineid.ProtectedID(machineIdAppId)
	if err == nil {
		return id
	}
	log.WithError(err).Warn("Could not get machine id, using hostname.")
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// NewMux routes the remote view and the debug mock device registry.
func NewMux(config Config, refractometer http.Handler, mockDevices http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", rootHandler(config))
	mux.Handle("/refractometer", refractometer)
	mux.Handle("/mock/", http.StripPrefix("/mock", mockDevices))

	return mux
}

func rootHandler(config Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Refractometer Driver",
			"version": config.Version,
			"host":    config.Host,
			"os":      runtime.GOOS,
			"arch":    runtime.GOARCH,
		})
	}
}

// originMiddleware rejects browser requests from origins other than
// localhost and the allowed ones. Requests without Origin are not from a
// browser and pass.
func originMiddleware(log *logrus.Entry, allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !originAllowed(origin, allowed) {
			log.WithField("origin", origin).Warn("Rejected request from foreign origin.")
			http.Error(w, "Origin not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	if slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Advertise announces the remote view on port via zeroconf.
func Advertise(log *logrus.Entry, host string, port int) (*zeroconf.Server, error) {
	instance := "Refractometer " + host
	if len(host) > 8 {
		instance = "Refractometer " + host[:8]
	}
	server, err := zeroconf.Register(instance, ServiceType, "local.", port, []string{"host=" + host}, nil)
	if err != nil {
		return nil, err
	}
	log.WithField("instance", instance).WithField("port", port).Info("Advertising remote view.")
	return server, nil
}

// Listen binds the server address, so that a port in use fails the caller
// before anything else is started.
func Listen(address string) (net.Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %s: %w", address, err)
	}
	return listener, nil
}

// Serve serves handler on listener until ctx is done. The listener is closed
// on return.
func Serve(ctx context.Context, log *logrus.Entry, config Config, listener net.Listener, handler http.Handler) error {
	httpServer := &http.Server{
		Handler:           originMiddleware(log, config.AllowedOrigins, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if config.Zeroconf {
		port := listener.Addr().(*net.TCPAddr).Port
		advertisement, err := Advertise(log, config.Host, port)
		if err != nil {
			// the remote view is still reachable by address
			log.WithError(err).Warn("Could not advertise remote view.")
		} else {
			defer advertisement.Shutdown()
		}
	}

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.Serve(listener)
	}()
	log.WithField("address", listener.Addr().String()).Info("Server listening.")

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("Server stopped.")
	return nil
}
