package dataflow

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/consent"
)

var testNow = time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

func grantedArtefact(id string) consent.ArtefactRepresentation {
	return consent.ArtefactRepresentation{
		Status:    consent.StatusGranted,
		Signature: "sig-" + id,
		ConsentDetail: consent.Detail{
			ConsentID: id,
			HIU:       consent.Reference{ID: "10000005"},
			HIP:       consent.Reference{ID: "10000002"},
			Permission: consent.Permission{
				AccessMode:  "VIEW",
				DateRange:   consent.NewDateRange(day(15), day(20)),
				DataEraseAt: consent.At(testNow.Add(48 * time.Hour)),
			},
		},
	}
}

func sampleRequest(consentID string, r *consent.DateRange) Request {
	return Request{
		Consent:     ConsentRef{ID: consentID},
		DateRange:   r,
		DataPushURL: "https://hiu.example.com/data/notification",
		KeyMaterial: KeyMaterial{CryptoAlg: "ECDH", Curve: "curve25519", Nonce: "n0nce"},
	}
}

type fakeArtefacts map[string]consent.ArtefactRepresentation

func (f fakeArtefacts) Artefact(ctx context.Context, id string) (consent.ArtefactRepresentation, error) {
	a, ok := f[id]
	if !ok {
		return consent.ArtefactRepresentation{}, apperr.ConsentArtefactNotFound()
	}
	return a, nil
}

type memRepo struct {
	mu            sync.Mutex
	records       map[string]Record
	notifications map[string][]byte
	insertErr     error
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[string]Record{}, notifications: map[string][]byte{}}
}

func (m *memRepo) Insert(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.records[r.TransactionID] = r
	return nil
}

func (m *memRepo) InsertNotification(ctx context.Context, requestID, transactionID string, payload []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if _, ok := m.notifications[requestID]; ok {
		return false, nil
	}
	m.notifications[requestID] = payload
	return true, nil
}

func (m *memRepo) Get(ctx context.Context, transactionID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[transactionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

type callback struct {
	hiuID string
	body  OnRequest
}

type recordingCallback struct {
	mu    sync.Mutex
	calls []callback
}

func (r *recordingCallback) OnRequest(ctx context.Context, hiuID string, body OnRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, callback{hiuID: hiuID, body: body})
	return nil
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
