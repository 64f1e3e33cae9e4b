package consent

import (
	"time"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
)

type DenyReason int

const (
	_ DenyReason = iota
	DenyInvalidHIU
	DenyExpired
	DenyNotGranted
	DenyInvalidDateRange
)

func (r DenyReason) String() string {
	switch r {
	case DenyInvalidHIU:
		return "invalid_hiu"
	case DenyExpired:
		return "consent_expired"
	case DenyNotGranted:
		return "consent_not_granted"
	case DenyInvalidDateRange:
		return "invalid_date_range"
	}
	return "authorized"
}

// Err maps a denial to the client error returned to the requester.
func (r DenyReason) Err() *apperr.ClientError {
	switch r {
	case DenyInvalidHIU:
		return apperr.InvalidHIU()
	case DenyExpired:
		return apperr.ConsentExpired()
	case DenyNotGranted:
		return apperr.ConsentNotGranted()
	case DenyInvalidDateRange:
		return apperr.InvalidDateRange()
	}
	return nil
}

// Decision is either authorized, with the effective range and the artefact
// signature, or denied with a reason.
type Decision struct {
	Reason    DenyReason
	Range     DateRange
	Signature string
}

func (d Decision) Authorized() bool { return d.Reason == 0 }

// Err is nil for an authorized decision.
func (d Decision) Err() error {
	if d.Authorized() {
		return nil
	}
	return d.Reason.Err()
}

// Authorize decides whether hiuID may pull data under artefact for requested.
// Rules apply in order and the first failure wins. A nil requested range
// means the whole granted range. Authorize performs no I/O.
func Authorize(hiuID string, artefact ArtefactRepresentation, requested *DateRange, now time.Time) Decision {
	detail := artefact.ConsentDetail
	if detail.HIU.ID != hiuID {
		return Decision{Reason: DenyInvalidHIU}
	}
	if !detail.Permission.DataEraseAt.After(now) {
		return Decision{Reason: DenyExpired}
	}
	if artefact.Status != StatusGranted {
		return Decision{Reason: DenyNotGranted}
	}
	granted := detail.Permission.DateRange
	if requested == nil {
		return Decision{Range: granted, Signature: artefact.Signature}
	}
	if !requested.Within(granted) {
		return Decision{Reason: DenyInvalidDateRange}
	}
	return Decision{Range: *requested, Signature: artefact.Signature}
}
