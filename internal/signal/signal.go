// Package signal checks WebRTC signaling payloads before the tracker relays
// them between peers. Payloads are never acted on, only validated.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
)

var (
	ErrUnknownKind    = errors.New("unknown signal kind")
	ErrInvalidPayload = errors.New("invalid signal payload")
)

type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindOffer, KindAnswer, KindCandidate:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Validate checks payload against kind. Offers and answers must be a
// session description of the matching type whose SDP parses. Candidates
// must be an ICE candidate init with a parseable candidate line.
func Validate(kind Kind, payload json.RawMessage) error {
	switch kind {
	case KindOffer:
		return validateDescription(webrtc.SDPTypeOffer, payload)
	case KindAnswer:
		return validateDescription(webrtc.SDPTypeAnswer, payload)
	case KindCandidate:
		return validateCandidate(payload)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func validateDescription(want webrtc.SDPType, payload json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: expected %s description, got %s", ErrInvalidPayload, want, desc.Type)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: sdp: %v", ErrInvalidPayload, err)
	}
	return nil
}

func validateCandidate(payload json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &init); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	value := strings.TrimPrefix(init.Candidate, "candidate:")
	if value == "" {
		return fmt.Errorf("%w: empty candidate", ErrInvalidPayload)
	}
	if _, err := ice.UnmarshalCandidate(value); err != nil {
		return fmt.Errorf("%w: candidate: %v", ErrInvalidPayload, err)
	}
	return nil
}
