package adapters

import "github.com/asmogo/portal/router"

// OneShotSenderHook is the inner hook a one-shot conversation supplies:
// build and return the single response to send.
type OneShotSenderHook interface {
	Send(a *OneShotSenderAdapter) (router.Response, error)
}

// OneShotSenderAdapter sends exactly one reply on Init and finishes
// immediately; OnMessage is never meaningfully called since the
// conversation is already finished by the time the router could dispatch
// anything to it.
type OneShotSenderAdapter struct {
	User    string
	Subkeys map[string]struct{}
	Inner   OneShotSenderHook
}

// NewOneShotSenderAdapter wraps inner to send to user (and, if known, a
// set of its subkeys).
func NewOneShotSenderAdapter(user string, subkeys []string, inner OneShotSenderHook) *OneShotSenderAdapter {
	set := make(map[string]struct{}, len(subkeys))
	for _, k := range subkeys {
		set[k] = struct{}{}
	}
	return &OneShotSenderAdapter{User: user, Subkeys: set, Inner: inner}
}

func (a *OneShotSenderAdapter) Init() (router.Response, error) {
	resp, err := a.Inner.Send(a)
	if err != nil {
		return router.Response{}, err
	}
	resp = resp.Finish()
	resp = substituteRecipients(resp, a.User, a.Subkeys)
	return resp, nil
}

func (a *OneShotSenderAdapter) OnMessage(router.ConversationMessage) (router.Response, error) {
	return router.NewResponse(), nil
}

func (a *OneShotSenderAdapter) IsExpired() bool { return false }

var _ router.Conversation = (*OneShotSenderAdapter)(nil)
