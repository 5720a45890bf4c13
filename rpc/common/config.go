package common

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures the protocol endpoint.
type ServerConfig struct {
	// Endpoint is host:port for tcp and websocket, a socket file for unix.
	Endpoint string
	// Transport is one of tcp, unix, websocket.
	Transport string
	// Serializer is one of json, binary, gob.
	Serializer string

	// TimeoutSecond bounds a single frame write. 0 disables the timeout.
	TimeoutSecond int64
	// WorkersPerConn limits the requests handled concurrently per connection.
	WorkersPerConn int

	// TCP socket options
	TCPNoDelay      bool
	TCPKeepAliveSec int

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Conn", fmt.Sprintf("%d", c.WorkersPerConn))
	if c.Transport == "tcp" {
		addField("TCP No Delay", fmt.Sprintf("%t", c.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures a protocol client.
type ClientConfig struct {
	Endpoint      string
	Transport     string
	Serializer    string
	TimeoutSecond int
	// RetryCount is the number of connection attempts.
	RetryCount int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", fmt.Sprintf("%d", c.RetryCount))

	return sb.String()
}
