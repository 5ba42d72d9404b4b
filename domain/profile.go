package domain

import (
	"github.com/asmogo/portal/protocol"
	"github.com/asmogo/portal/router"
	"github.com/asmogo/portal/router/adapters"
)

// SetProfileContent is the unencrypted kind-Metadata payload broadcast by
// NewSetProfile.
type SetProfileContent struct {
	Name string `json:"name"`
}

type setProfile struct {
	content SetProfileContent
}

// NewSetProfile broadcasts a single unencrypted kind.Metadata event and
// finishes immediately; it never installs a filter.
func NewSetProfile(content SetProfileContent) router.Conversation {
	return adapters.NewOneShotSenderAdapter("", nil, &setProfile{content: content})
}

func (p *setProfile) Send(a *adapters.OneShotSenderAdapter) (router.Response, error) {
	return router.NewResponse().BroadcastUnencrypted(protocol.MetadataKind, nil, p.content), nil
}
