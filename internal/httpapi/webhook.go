package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joshdurbin/fitnerd/internal/apperror"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/webhook"
)

const (
	eventReceived = "EVENT_RECEIVED"
	forbidden     = "forbidden"

	// maxWebhookBody bounds an event body; real events are a few hundred bytes.
	maxWebhookBody = 64 << 10
)

// handleWebhookChallenge answers the provider's subscription handshake.
func (a *API) handleWebhookChallenge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := webhook.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), a.verifyToken)
	if !ok {
		logging.Logger.Warn().Str("mode", q.Get("hub.mode")).Msg("webhook challenge rejected")
		writeText(w, http.StatusForbidden, forbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// handleWebhookEvent queues an event from our subscription and acknowledges
// it. Processing happens on the worker pool.
func (a *API) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	var ev webhook.Event
	body := http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		writeError(w, r, apperror.ValidationFailed("body", "invalid webhook event"))
		return
	}
	log := logging.Logger.With().
		Int64("subscription_id", ev.SubscriptionID).
		Str("object_type", ev.ObjectType).
		Str("aspect_type", ev.AspectType).
		Int64("object_id", ev.ObjectID).
		Int64("owner_id", ev.OwnerID).
		Logger()

	sub, err := a.queries.GetWebhookSubscription(r.Context(), webhook.ServiceName)
	switch {
	case errors.Is(err, db.ErrNotFound):
		log.Warn().Msg("webhook event received without a stored subscription")
		a.observer.WebhookEvent(ev.ObjectType, ev.AspectType, false)
		writeText(w, http.StatusForbidden, forbidden)
		return
	case err != nil:
		writeError(w, r, err)
		return
	}
	if sub.SubscriptionID != ev.SubscriptionID {
		log.Warn().Int64("expected_subscription_id", sub.SubscriptionID).Msg("webhook event for unknown subscription")
		a.observer.WebhookEvent(ev.ObjectType, ev.AspectType, false)
		writeText(w, http.StatusForbidden, forbidden)
		return
	}

	if _, err := a.queue.EnqueueWebhook(r.Context(), ev); err != nil {
		writeError(w, r, err)
		return
	}
	a.observer.WebhookEvent(ev.ObjectType, ev.AspectType, true)
	log.Info().Msg("webhook event accepted")
	writeText(w, http.StatusOK, eventReceived)
}
