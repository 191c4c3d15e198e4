package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
)

type recordingIntake struct {
	events []*domain.ExternalEvent
	err    error
}

func (r *recordingIntake) Apply(ctx context.Context, event *domain.ExternalEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookRouter(intake *recordingIntake, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewWebhookHandler(intake, secret, zerolog.Nop())
	router.POST("/v1/webhooks/custody", handler.HandleCustodyWebhook)
	return router
}

func TestHandleCustodyWebhook_Accepted(t *testing.T) {
	intake := &recordingIntake{}
	router := newWebhookRouter(intake, "secret")

	payload, _ := json.Marshal(domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransferCompleted,
		TransactionID: "tx-1",
		DestTxHash:    "0xmint",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/custody", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", sign("secret", payload))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(intake.events) != 1 {
		t.Fatalf("intake received %d events, want 1", len(intake.events))
	}
	if intake.events[0].DeliveryID != "d-1" {
		t.Errorf("delivery id = %q, want d-1", intake.events[0].DeliveryID)
	}
	if intake.events[0].ReceivedAt.IsZero() {
		t.Error("received_at not stamped")
	}
}

func TestHandleCustodyWebhook_BadSignature(t *testing.T) {
	intake := &recordingIntake{}
	router := newWebhookRouter(intake, "secret")

	payload := []byte(`{"event_type":"transfer.completed"}`)

	cases := map[string]string{
		"missing signature": "",
		"wrong secret":      sign("other-secret", payload),
		"tampered payload":  sign("secret", []byte(`{"event_type":"transfer.failed"}`)),
	}

	for name, signature := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/custody", bytes.NewReader(payload))
		if signature != "" {
			req.Header.Set("X-Webhook-Signature", signature)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, w.Code)
		}
	}

	if len(intake.events) != 0 {
		t.Errorf("unverified payloads reached the intake: %d", len(intake.events))
	}
}

func TestHandleCustodyWebhook_InvalidJSON(t *testing.T) {
	intake := &recordingIntake{}
	router := newWebhookRouter(intake, "secret")

	payload := []byte(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/custody", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", sign("secret", payload))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)

	if !VerifySignature("secret", payload, sign("secret", payload)) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("secret", payload, sign("wrong", payload)) {
		t.Error("signature with wrong secret accepted")
	}
	if VerifySignature("", payload, sign("", payload)) {
		t.Error("empty secret accepted")
	}
	if VerifySignature("secret", payload, "") {
		t.Error("empty signature accepted")
	}
}
