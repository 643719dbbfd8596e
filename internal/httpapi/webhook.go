package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/ingest"
	"github.com/erauner12/wa-gateway/internal/metrics"
)

// ProviderWebhook handles POST /webhook/provider. It always answers 200:
// the event is recorded before anything can go wrong downstream, and a
// non-200 would make the provider redeliver events we already logged.
func (s *Server) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	}()

	var env ingest.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		log.Warn().Err(err).Msg("unparseable webhook payload")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := s.Ingestor.Handle(r.Context(), env); err != nil {
		log.Error().Err(err).Str("event", env.Event).Msg("webhook processing failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
