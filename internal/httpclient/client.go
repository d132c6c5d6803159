// Package httpclient implements the stateless upstream operations the rest
// of the gateway core depends on: token refresh, user-info lookup, project
// id discovery, available-models-with-quota, and the generic v1internal
// RPC call. Only project id discovery retries internally, and none of
// these interpret HTTP 429; that is the dispatcher's job.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/w154594742/Antigravity2Api/internal/logging"
)

// Client performs the upstream HTTP operations over a shared *http.Client.
type Client struct {
	http *http.Client
	log  logging.Logger
}

// New builds a Client with a 5s dial timeout and a 120s overall request
// timeout (generous enough for streaming methods). Timeouts surface as
// network errors and participate in the dispatcher's retry policy.
func New(log logging.Logger) *Client {
	if log == nil {
		log = logging.Noop{}
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{DialContext: dialer.DialContext}
	return &Client{
		http: &http.Client{Timeout: 120 * time.Second, Transport: transport},
		log:  log,
	}
}
