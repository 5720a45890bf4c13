package runtime

import (
	"fmt"
	"net/http"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/ValentinKolb/dCycle/rpc/serializer"
	"github.com/ValentinKolb/dCycle/rpc/transport"
	"github.com/ValentinKolb/dCycle/rpc/transport/tcp"
	"github.com/ValentinKolb/dCycle/rpc/transport/unix"
	"github.com/ValentinKolb/dCycle/rpc/transport/websocket"
)

// NewServerTransport creates the server transport with the given name (tcp, unix, websocket).
// Its metrics are registered in set.
func NewServerTransport(name string, set *vm.Set) (transport.IRPCServerTransport, error) {
	switch name {
	case "tcp":
		return tcp.NewTCPServerTransport(set), nil
	case "unix":
		return unix.NewUnixServerTransport(set), nil
	case "websocket", "ws":
		return websocket.NewWebsocketServerTransport(set), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// NewClientTransport creates the client transport with the given name (tcp, unix, websocket).
func NewClientTransport(name string) (transport.IRPCClientTransport, error) {
	switch name {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "websocket", "ws":
		return websocket.NewWebsocketClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// NewSerializer creates the envelope serializer with the given name (json, binary, gob).
func NewSerializer(name string) (serializer.IRPCSerializer, error) {
	switch name {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
}

// metricsHandler exposes the runtime's metrics followed by the process metrics.
func metricsHandler(set *vm.Set) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		set.WritePrometheus(w)
		vm.WritePrometheus(w, true)
	})
	return mux
}
