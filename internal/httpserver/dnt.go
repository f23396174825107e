package httpserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// trackingStatusContentType is the W3C tracking status resource type.
const trackingStatusContentType = "application/tracking-status+json"

const dntPolicyText = `Do Not Track Compliance Policy

This server honors the Do Not Track (DNT) signal. When a request carries
DNT: 1, impressions from that client are reported as not tracked.

Advertisements are billed by aggregate daily counters per advertisement
and publisher. No per-user browsing history is collected or stored.
`

// handleDNTStatus serves the tracking status resource. Disabled deployments
// return 404 so clients cannot distinguish the feature from an absent one.
func (s *Server) handleDNTStatus(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DoNotTrack.Enabled {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]string{"tracking": "T"}
	if r.Header.Get("DNT") == "1" {
		status["tracking"] = "N"
	}
	if s.cfg.DoNotTrack.PolicyURL != "" {
		status["policy"] = s.cfg.DoNotTrack.PolicyURL
	}

	w.Header().Set("Content-Type", trackingStatusContentType)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed to encode tracking status", zap.Error(err))
	}
}

// handleDNTPolicy serves the static policy document.
func (s *Server) handleDNTPolicy(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DoNotTrack.Enabled {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dntPolicyText))
}
