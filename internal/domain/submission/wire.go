package submission

import "fmt"

// WireStatus is the status vocabulary consumed by downstream systems. Values must stay stable.
type WireStatus string

const (
	WirePending             WireStatus = "pending"
	WireRevisionRequested   WireStatus = "revision_requested"
	WireApproved            WireStatus = "approved"
	WireSparkRequested      WireStatus = "spark_requested"
	WireSparkReceived       WireStatus = "spark_received"
	WireSparkVerified       WireStatus = "spark_verified"
	WireTikTokLinkRequested WireStatus = "tiktokLink_requested"
	WireTikTokLinkReceived  WireStatus = "tiktokLink_received"
	WireTikTokLinkVerified  WireStatus = "tiktokLink_verified"
	WireAwaitingPayment     WireStatus = "awaiting_payment"
	WirePaymentConfirmed    WireStatus = "payment_confirmed"
)

type proofWire struct {
	requested, received, verified WireStatus
}

var proofWireByModel = map[ContentModel]proofWire{
	ModelSparkAds:          {WireSparkRequested, WireSparkReceived, WireSparkVerified},
	ModelCreatorPostedLink: {WireTikTokLinkRequested, WireTikTokLinkReceived, WireTikTokLinkVerified},
}

// ToWire maps an internal status to the wire vocabulary for the given model.
func ToWire(model ContentModel, status Status) (WireStatus, error) {
	switch status {
	case StatusSubmitted:
		return WirePending, nil
	case StatusRevisionRequested:
		return WireRevisionRequested, nil
	case StatusApproved:
		return WireApproved, nil
	case StatusAwaitingPayment:
		return WireAwaitingPayment, nil
	case StatusPaymentConfirmed:
		return WirePaymentConfirmed, nil
	}
	pw, ok := proofWireByModel[model]
	if !ok {
		return "", fmt.Errorf("status %s has no wire form for model %s", status, model)
	}
	switch status {
	case StatusProofRequested:
		return pw.requested, nil
	case StatusProofReceived:
		return pw.received, nil
	case StatusProofVerified:
		return pw.verified, nil
	}
	return "", fmt.Errorf("unknown status %s", status)
}

// WireStatus returns the wire form of the submission's status.
func (s *Submission) WireStatus() WireStatus {
	w, err := ToWire(s.ContentModel, s.Status)
	if err != nil {
		return WireStatus(s.Status)
	}
	return w
}

// ParseWireStatus maps a wire value back to an internal status.
// The returned model hint is empty unless the value is specific to one proof strategy.
func ParseWireStatus(w WireStatus) (Status, ContentModel, error) {
	switch w {
	case WirePending:
		return StatusSubmitted, "", nil
	case WireRevisionRequested:
		return StatusRevisionRequested, "", nil
	case WireApproved:
		return StatusApproved, "", nil
	case WireAwaitingPayment:
		return StatusAwaitingPayment, "", nil
	case WirePaymentConfirmed:
		return StatusPaymentConfirmed, "", nil
	}
	for model, pw := range proofWireByModel {
		switch w {
		case pw.requested:
			return StatusProofRequested, model, nil
		case pw.received:
			return StatusProofReceived, model, nil
		case pw.verified:
			return StatusProofVerified, model, nil
		}
	}
	return "", "", fmt.Errorf("unknown wire status %q", w)
}
