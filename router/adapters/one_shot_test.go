package adapters_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asmogo/portal/router"
	"github.com/asmogo/portal/router/adapters"
)

type fixedSend struct {
	resp router.Response
	err  error
}

func (f *fixedSend) Send(*adapters.OneShotSenderAdapter) (router.Response, error) {
	return f.resp, f.err
}

func TestOneShotSenderFinishesOnInitAndSubstitutesRecipients(t *testing.T) {
	t.Parallel()

	hook := &fixedSend{resp: router.NewResponse().ReplyAll(1, nil, "hello")}
	a := adapters.NewOneShotSenderAdapter("main-key", []string{"sub-key"}, hook)

	resp, err := a.Init()
	require.NoError(t, err)
	require.True(t, resp.Finished, "one-shot sender must finish on init")
	require.Len(t, resp.Responses, 1)
	require.ElementsMatch(t, []string{"main-key", "sub-key"}, resp.Responses[0].Recipients)
}

func TestOneShotSenderOnMessageIsNoOp(t *testing.T) {
	t.Parallel()

	a := adapters.NewOneShotSenderAdapter("main-key", nil, &fixedSend{resp: router.NewResponse()})
	resp, err := a.OnMessage(router.ConversationMessage{EndOfStoredEvents: true})
	require.NoError(t, err)
	require.False(t, resp.Finished)
	require.Empty(t, resp.Responses)
}

func TestOneShotSenderNeverExpires(t *testing.T) {
	t.Parallel()

	a := adapters.NewOneShotSenderAdapter("main-key", nil, &fixedSend{resp: router.NewResponse()})
	require.False(t, a.IsExpired())
}
