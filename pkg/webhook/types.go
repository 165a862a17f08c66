package webhook

import (
	"encoding/json"
	"time"
)

// Defaults for ServerOptions
const (
	DefaultSignatureHeader = "X-Otto-Signature"
	DefaultRequestsPerMin  = 120
	DefaultMaxBodyBytes    = 1 << 20
	DefaultShutdownWait    = 30 * time.Second
)

// ServerOptions configures the document webhook listener
type ServerOptions struct {
	Addr string
	// Secret enables HMAC verification of the raw body when set
	Secret             string
	SignatureHeader    string
	SignatureAlgorithm string
	// MaxRequestsPerMin is per client IP; 0 means DefaultRequestsPerMin
	MaxRequestsPerMin int
	MaxBodyBytes      int64
	ShutdownWait      time.Duration
}

func (o *ServerOptions) applyDefaults() {
	if o.SignatureHeader == "" {
		o.SignatureHeader = DefaultSignatureHeader
	}
	if o.SignatureAlgorithm == "" {
		o.SignatureAlgorithm = "sha256"
	}
	if o.MaxRequestsPerMin <= 0 {
		o.MaxRequestsPerMin = DefaultRequestsPerMin
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.ShutdownWait <= 0 {
		o.ShutdownWait = DefaultShutdownWait
	}
}

// DocumentRequest is the body of POST /documents/{kind}/{id}
type DocumentRequest struct {
	Event string          `json:"event"`
	Doc   json.RawMessage `json:"doc,omitempty"`
}

// DocumentResponse acknowledges an accepted event
type DocumentResponse struct {
	Accepted bool   `json:"accepted"`
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Event    string `json:"event"`
}
