package submission

var commonTransitions = map[Status][]Status{
	StatusSubmitted:         {StatusRevisionRequested, StatusApproved},
	StatusRevisionRequested: {StatusSubmitted},
	StatusAwaitingPayment:   {StatusPaymentConfirmed},
	StatusPaymentConfirmed:  {},
}

// Gated models pass through the proof branch before settlement.
var gatedTransitions = map[Status][]Status{
	StatusApproved:       {StatusProofRequested},
	StatusProofRequested: {StatusProofReceived, StatusProofRequested},
	StatusProofReceived:  {StatusProofVerified, StatusProofRequested},
	StatusProofVerified:  {StatusAwaitingPayment, StatusPaymentConfirmed},
}

var ungatedTransitions = map[Status][]Status{
	StatusApproved: {StatusAwaitingPayment, StatusPaymentConfirmed},
}

// CanTransition validates a status transition for a content model.
func CanTransition(model ContentModel, from, to Status) bool {
	allowed, ok := commonTransitions[from]
	if !ok {
		if model.RequiresProof() {
			allowed = gatedTransitions[from]
		} else {
			allowed = ungatedTransitions[from]
		}
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
