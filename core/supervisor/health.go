package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type healthReply struct {
	Status string `json:"status"`
}

// probe performs a single health check against the service and reports
// whether it answered with an ok status.
func (s *Supervisor) probe(ctx context.Context, host string, port int) bool {
	u := fmt.Sprintf("http://%s/health", hostPort(host, port))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var reply healthReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return false
	}

	return reply.Status == "ok"
}

// hostPort maps wildcard bind addresses to loopback for probing.
func hostPort(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return fmt.Sprintf("%s:%d", host, port)
}
