package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/radiusdt/vector-adserver/internal/adserver"
	"github.com/radiusdt/vector-adserver/internal/middleware"
	"github.com/radiusdt/vector-adserver/internal/models"
	"go.uber.org/zap"
)

// reasonHeader carries the tracking decision for debugging. Only set in
// debug mode or for staff callers so the reason never leaks to clients.
const reasonHeader = "X-Adserver-Reason"

// transparentPixel is a 1x1 transparent GIF.
var transparentPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func (s *Server) handleTrackView(w http.ResponseWriter, r *http.Request) {
	s.handleTrack(w, r, models.ImpressionView, "/track/view/")
}

func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	s.handleTrack(w, r, models.ImpressionClick, "/track/click/")
}

// handleTrack parses /track/{type}/{advertisementId}/{nonce}, runs the
// tracker and responds with the pixel or redirect. Rejected impressions
// get the same response as billed ones; the decision only shows in the
// diagnostic header.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request, t models.ImpressionType, prefix string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	adID, token, ok := parseTrackPath(r.URL.Path, prefix)
	if !ok {
		http.NotFound(w, r)
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())

	result, err := s.tracker.Track(r.Context(), adserver.TrackRequest{
		AdvertisementID: adID,
		Nonce:           token,
		Type:            t,
		ClientIP:        getClientIP(r),
		UserAgent:       r.UserAgent(),
		Referrer:        r.Referer(),
		IsStaff:         principal.IsStaff,
	})
	if errors.Is(err, adserver.ErrAdNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("tracking failed", zap.String("advertisement_id", adID), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if s.cfg.Server.Debug || principal.IsStaff {
		w.Header().Set(reasonHeader, result.Message)
	}

	if t == models.ImpressionClick {
		http.Redirect(w, r, result.Advertisement.Link, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(transparentPixel)
}

// parseTrackPath extracts the advertisement id and nonce from the path.
func parseTrackPath(path, prefix string) (adID, token string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// handleDecision serves one advertisement offer for a publisher.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	publisherSlug := r.URL.Query().Get("publisher")
	if publisherSlug == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "publisher is required"})
		return
	}

	offer, err := s.decision.Offer(r.Context(), publisherSlug, r.URL.Query().Get("force_ad"))
	if errors.Is(err, adserver.ErrPublisherNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "publisher not found"})
		return
	}
	if err != nil {
		s.logger.Error("ad decision failed", zap.String("publisher", publisherSlug), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if offer == nil {
		// No live advertisement to serve.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.writeJSON(w, http.StatusOK, offer)
}
