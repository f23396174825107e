package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/radiusdt/vector-adserver/internal/adserver"
	"github.com/radiusdt/vector-adserver/internal/middleware"
	"go.uber.org/zap"
)

// handleAdvertiserReport serves GET /api/v1/advertisers/{slug}/report.
// Staff see any advertiser; advertisers see their own via report token.
func (s *Server) handleAdvertiserReport(w http.ResponseWriter, r *http.Request) {
	slug, ok := parseReportPath(r.URL.Path, "/api/v1/advertisers/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	advertiser, err := s.ads.GetAdvertiserBySlug(r.Context(), slug)
	if err != nil {
		s.logger.Error("failed to load advertiser", zap.String("slug", slug), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if advertiser == nil {
		http.NotFound(w, r)
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	if !principal.IsStaff && !tokenMatches(principal.Token, advertiser.ReportToken) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	opts := adserver.ParseReportOptions(r.URL.Query(), time.Now())
	report, err := s.reporting.AdvertiserReport(r.Context(), advertiser.ID, opts)
	if err != nil {
		s.logger.Error("advertiser report failed", zap.String("slug", slug), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handlePublisherReport serves GET /api/v1/publishers/{slug}/report.
func (s *Server) handlePublisherReport(w http.ResponseWriter, r *http.Request) {
	slug, ok := parseReportPath(r.URL.Path, "/api/v1/publishers/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	publisher, err := s.ads.GetPublisherBySlug(r.Context(), slug)
	if err != nil {
		s.logger.Error("failed to load publisher", zap.String("slug", slug), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if publisher == nil {
		http.NotFound(w, r)
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	if !principal.IsStaff && !tokenMatches(principal.Token, publisher.ReportToken) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	opts := adserver.ParseReportOptions(r.URL.Query(), time.Now())
	report, err := s.reporting.PublisherReport(r.Context(), publisher.ID, opts)
	if err != nil {
		s.logger.Error("publisher report failed", zap.String("slug", slug), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handleAllAdvertisersReport serves the staff-only cross-advertiser report.
func (s *Server) handleAllAdvertisersReport(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	opts := adserver.ParseReportOptions(r.URL.Query(), time.Now())
	report, err := s.reporting.AllAdvertisersReport(r.Context(), opts)
	if err != nil {
		s.logger.Error("all advertisers report failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handleAllPublishersReport serves the staff-only cross-publisher report.
func (s *Server) handleAllPublishersReport(w http.ResponseWriter, r *http.Request) {
	if !s.requireStaff(w, r) {
		return
	}

	opts := adserver.ParseReportOptions(r.URL.Query(), time.Now())
	report, err := s.reporting.AllPublishersReport(r.Context(), opts)
	if err != nil {
		s.logger.Error("all publishers report failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return false
	}
	principal, _ := middleware.PrincipalFromContext(r.Context())
	if !principal.IsStaff {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func tokenMatches(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// parseReportPath extracts the slug from {prefix}{slug}/report.
func parseReportPath(path, prefix string) (string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "report" {
		return "", false
	}
	return parts[0], true
}
