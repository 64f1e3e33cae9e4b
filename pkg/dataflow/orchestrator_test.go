package dataflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/cache"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/consent"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/scheduler"
)

type harness struct {
	orch *Orchestrator
	repo *memRepo
	bc   *recordingBroadcaster
	cb   *recordingCallback
	acks cache.Cache
}

func newHarness() harness {
	h := harness{
		repo: newMemRepo(),
		bc:   &recordingBroadcaster{},
		cb:   &recordingCallback{},
		acks: cache.NewMemoryCache(100, time.Minute),
	}
	h.orch = New(Deps{
		Artefacts:   fakeArtefacts{"consent-1": grantedArtefact("consent-1")},
		Repository:  h.repo,
		Broadcaster: h.bc,
		Gateway:     h.cb,
		Acks:        h.acks,
		Now:         func() time.Time { return testNow },
		NewID:       sequentialIDs("id"),
		AckOptions:  []scheduler.Option{scheduler.WithBackoff(2*time.Millisecond, 5*time.Millisecond)},
	})
	return h
}

func TestRequestHealthDataAuthorized(t *testing.T) {
	h := newHarness()
	requested := consent.NewDateRange(day(16), day(18))

	txn, err := h.orch.RequestHealthData(context.Background(), "10000005", sampleRequest("consent-1", &requested))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if txn != "id-1" {
		t.Fatalf("unexpected transaction id %q", txn)
	}
	rec, err := h.repo.Get(context.Background(), txn)
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if rec.DateRange != requested || *rec.Request.DateRange != requested {
		t.Fatalf("expected requested range to be persisted, got %+v", rec.DateRange)
	}
	if rec.HIUID != "10000005" || rec.HIPID != "10000002" || rec.Signature != "sig-consent-1" || rec.ConsentID != "consent-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(h.bc.msgs) != 1 || h.bc.msgs[0].TransactionID != txn || h.bc.msgs[0].HIPID != "10000002" {
		t.Fatalf("expected one broadcast for %s, got %+v", txn, h.bc.msgs)
	}
}

func TestRequestHealthDataDefaultsToGrantedRange(t *testing.T) {
	h := newHarness()
	txn, err := h.orch.RequestHealthData(context.Background(), "10000005", sampleRequest("consent-1", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rec, _ := h.repo.Get(context.Background(), txn)
	if rec.DateRange != consent.NewDateRange(day(15), day(20)) {
		t.Fatalf("expected granted range, got %+v", rec.DateRange)
	}
	if got := h.bc.msgs[0].DataFlowRequest.DateRange; got == nil || *got != rec.DateRange {
		t.Fatalf("broadcast should carry the effective range, got %+v", got)
	}
}

func TestRequestHealthDataDenialHasNoSideEffects(t *testing.T) {
	cases := []struct {
		name      string
		hiu       string
		requested *consent.DateRange
		consentID string
		want      *apperr.ClientError
	}{
		{name: "wrong hiu", hiu: "99999999", consentID: "consent-1", want: apperr.InvalidHIU()},
		{name: "outside grant", hiu: "10000005", consentID: "consent-1", requested: &consent.DateRange{From: consent.At(day(14)), To: consent.At(day(16))}, want: apperr.InvalidDateRange()},
		{name: "unknown consent", hiu: "10000005", consentID: "missing", want: apperr.ConsentArtefactNotFound()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			_, err := h.orch.RequestHealthData(context.Background(), tc.hiu, sampleRequest(tc.consentID, tc.requested))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
			if h.repo.count() != 0 || len(h.bc.msgs) != 0 {
				t.Fatalf("expected no side effects, got %d records %d messages", h.repo.count(), len(h.bc.msgs))
			}
		})
	}
}

func TestRequestHealthDataPersistenceFailureSkipsBroadcast(t *testing.T) {
	h := newHarness()
	h.repo.insertErr = errors.New("connection reset")

	_, err := h.orch.RequestHealthData(context.Background(), "10000005", sampleRequest("consent-1", nil))
	if !errors.Is(err, apperr.DBOperationFailed()) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if len(h.bc.msgs) != 0 {
		t.Fatal("nothing may be queued after a failed insert")
	}
}

func TestRequestHealthDataInfoCallsBackOnce(t *testing.T) {
	h := newHarness()
	requested := consent.NewDateRange(day(16), day(18))
	req := GatewayRequest{RequestID: "gw-req-1", Timestamp: consent.At(testNow), HIRequest: sampleRequest("consent-1", &requested)}

	if err := h.orch.RequestHealthDataInfo(context.Background(), "10000005", req); err != nil {
		t.Fatalf("request info: %v", err)
	}
	if len(h.cb.calls) != 1 {
		t.Fatalf("expected exactly one callback, got %d", len(h.cb.calls))
	}
	call := h.cb.calls[0]
	if call.hiuID != "10000005" || call.body.Resp.RequestID != "gw-req-1" {
		t.Fatalf("unexpected callback routing %+v", call)
	}
	if call.body.Error != nil || call.body.HIRequest == nil {
		t.Fatalf("expected hiRequest only, got %+v", call.body)
	}
	if call.body.HIRequest.SessionStatus != SessionRequested || call.body.HIRequest.TransactionID != "id-2" {
		t.Fatalf("unexpected hiRequest %+v", call.body.HIRequest)
	}
	if call.body.RequestID != "id-1" || call.body.RequestID == req.RequestID {
		t.Fatalf("callback must carry a fresh request id, got %q", call.body.RequestID)
	}
}

func TestRequestHealthDataInfoReportsDenial(t *testing.T) {
	h := newHarness()
	req := GatewayRequest{RequestID: "gw-req-2", Timestamp: consent.At(testNow), HIRequest: sampleRequest("consent-1", nil)}

	if err := h.orch.RequestHealthDataInfo(context.Background(), "99999999", req); err != nil {
		t.Fatalf("request info: %v", err)
	}
	if len(h.cb.calls) != 1 {
		t.Fatalf("expected exactly one callback, got %d", len(h.cb.calls))
	}
	body := h.cb.calls[0].body
	if body.HIRequest != nil || body.Error == nil {
		t.Fatalf("expected error only, got %+v", body)
	}
	if body.Error.Code != apperr.CodeConsentArtefactForbidden || body.Error.Message != "invalid HIU" {
		t.Fatalf("unexpected error body %+v", body.Error)
	}
	if h.repo.count() != 0 || len(h.bc.msgs) != 0 {
		t.Fatal("denied request must not be persisted or queued")
	}
}

func TestAcknowledgementRoundTrip(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	txn, err := h.orch.RequestHealthData(ctx, "10000005", sampleRequest("consent-1", nil))
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = h.orch.HandleOnRequest(ctx, OnRequest{
			RequestID: "hip-1",
			HIRequest: &TransactionStatus{TransactionID: txn, SessionStatus: SessionAcknowledged},
			Resp:      RespRef{RequestID: "dr-1"},
		})
	}()

	status, err := h.orch.AwaitAcknowledgement(ctx, "10000005", txn, time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if status != SessionAcknowledged {
		t.Fatalf("unexpected status %q", status)
	}
}

func TestAwaitAcknowledgementTimesOut(t *testing.T) {
	h := newHarness()
	txn, err := h.orch.RequestHealthData(context.Background(), "10000005", sampleRequest("consent-1", nil))
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.orch.AwaitAcknowledgement(context.Background(), "10000005", txn, 20*time.Millisecond)
	if !errors.Is(err, apperr.NoResultFromGateway()) || !errors.Is(err, scheduler.ErrTimeout) {
		t.Fatalf("expected gateway timeout, got %v", err)
	}
}

func TestAwaitAcknowledgementUnknownTransaction(t *testing.T) {
	h := newHarness()
	_, err := h.orch.AwaitAcknowledgement(context.Background(), "10000005", "nope", 20*time.Millisecond)
	if !errors.Is(err, apperr.TransactionNotFound()) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAwaitAcknowledgementHidesOtherHIUTransactions(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	txn, err := h.orch.RequestHealthData(ctx, "10000005", sampleRequest("consent-1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.orch.HandleOnRequest(ctx, OnRequest{
		RequestID: "hip-1",
		HIRequest: &TransactionStatus{TransactionID: txn, SessionStatus: SessionAcknowledged},
		Resp:      RespRef{RequestID: "dr-1"},
	}); err != nil {
		t.Fatal(err)
	}

	_, err = h.orch.AwaitAcknowledgement(ctx, "99999999", txn, 20*time.Millisecond)
	if !errors.Is(err, apperr.TransactionNotFound()) {
		t.Fatalf("expected another hiu to see not found, got %v", err)
	}
	if status, err := h.orch.AwaitAcknowledgement(ctx, "10000005", txn, 20*time.Millisecond); err != nil || status != SessionAcknowledged {
		t.Fatalf("owner should see the acknowledgement, got %q %v", status, err)
	}
}

func TestHandleOnRequestErrorAndEmpty(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	err := h.orch.HandleOnRequest(ctx, OnRequest{RequestID: "r", Error: &apperr.Body{Code: 1500, Message: "hip down"}})
	if err != nil {
		t.Fatalf("error acknowledgements are logged, got %v", err)
	}
	if err := h.orch.HandleOnRequest(ctx, OnRequest{RequestID: "r"}); !errors.Is(err, apperr.InvalidRequest("")) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestNotifyHealthInformationStatus(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	n := NotificationRequest{
		RequestID: "notify-1",
		Timestamp: consent.At(testNow),
		Notification: Notification{
			ConsentID:     "consent-1",
			TransactionID: "txn-1",
			Notifier:      Notifier{Type: "HIU", ID: "10000005"},
			StatusNotification: StatusNotification{
				SessionStatus: "TRANSFERRED",
				HIPID:         "10000002",
			},
		},
	}
	if err := h.orch.NotifyHealthInformationStatus(ctx, n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := h.orch.NotifyHealthInformationStatus(ctx, n); !errors.Is(err, apperr.RequestAlreadyExists()) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	h.repo.insertErr = errors.New("disk full")
	n.RequestID = "notify-2"
	if err := h.orch.NotifyHealthInformationStatus(ctx, n); !errors.Is(err, apperr.DBOperationFailed()) {
		t.Fatalf("expected db failure, got %v", err)
	}
}
