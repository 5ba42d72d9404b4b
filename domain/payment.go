package domain

import (
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/protocol"
	"github.com/asmogo/portal/router"
	"github.com/asmogo/portal/router/adapters"
)

// paymentRequestValiditySeconds bounds how long a payment request waits
// for a response before expiring.
const paymentRequestValiditySeconds = 10 * 60

// SinglePaymentRequestContent is the request payload sent to the
// counterpart; not a real invoice/settlement model, just enough shape to
// exercise the multi-key-sender adapter.
type SinglePaymentRequestContent struct {
	RequestID string `json:"request_id"`
	Amount    uint64 `json:"amount"`
	Currency  string `json:"currency"`
	Invoice   string `json:"invoice"`
}

// PaymentResponseContent is what the counterpart replies with.
type PaymentResponseContent struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type paymentRequest struct {
	request     SinglePaymentRequestContent
	localPubkey string
}

// NewSinglePaymentRequestContent fills in a fresh, collision-resistant
// request id so the counterpart's response can be matched back to this
// conversation.
func NewSinglePaymentRequestContent(amount uint64, currency, invoice string) SinglePaymentRequestContent {
	return SinglePaymentRequestContent{
		RequestID: uuid.NewString(),
		Amount:    amount,
		Currency:  currency,
		Invoice:   invoice,
	}
}

// NewPaymentRequest sends a single payment request to user (and any
// already-known subkeys), resolving with the first valid
// PaymentResponseContent while tolerating subkey discovery mid-flight.
// localPubkey is tagged on the filter so replies addressed to us are
// matched even before the counterpart's subkeys are known.
func NewPaymentRequest(user string, subkeys []string, localPubkey string, request SinglePaymentRequestContent) router.Conversation {
	return adapters.NewMultiKeySenderAdapter[PaymentResponseContent](
		user, subkeys, &paymentRequest{request: request, localPubkey: localPubkey},
	)
}

func (p *paymentRequest) ValiditySeconds() int64 { return paymentRequestValiditySeconds }

func (p *paymentRequest) GetFilter(a *adapters.MultiKeySenderAdapter[PaymentResponseContent]) (nostr.Filter, error) {
	authors := make([]string, 0, 1+len(a.Subkeys))
	authors = append(authors, a.User)
	for subkey := range a.Subkeys {
		authors = append(authors, subkey)
	}
	return nostr.Filter{
		Kinds:   []int{protocol.PaymentKindMin + 1},
		Authors: authors,
		Tags:    nostr.TagMap{"p": []string{p.localPubkey}},
	}, nil
}

func (p *paymentRequest) BuildInitialMessage(
	a *adapters.MultiKeySenderAdapter[PaymentResponseContent],
	newKey *string,
) (router.Response, error) {
	return router.NewResponse().ReplyAll(protocol.PaymentKindMin, nil, p.request), nil
}

func (p *paymentRequest) OnMessage(
	a *adapters.MultiKeySenderAdapter[PaymentResponseContent],
	evt router.CleartextEvent,
	msg *PaymentResponseContent,
) (router.Response, error) {
	if msg.RequestID != p.request.RequestID {
		return router.NewResponse(), nil
	}
	return router.NewResponse().Notify(*msg).Finish(), nil
}
