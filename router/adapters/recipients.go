// Package adapters implements the three recurring conversation shapes
// (one-shot sender, multi-key listener, multi-key sender) as concrete
// struct types wrapping a caller-supplied hook, per the router's adapter
// pattern: reusable Conversation implementations that encode the
// subkey-proof key-switching protocol so individual conversations don't
// have to.
package adapters

import "github.com/asmogo/portal/router"

// substituteRecipients fills every response entry that still has an
// empty recipient set with {user} ∪ subkeys — the router later encrypts
// one event per recipient. Entries with an explicit recipient (ReplyTo)
// are left untouched.
func substituteRecipients(resp router.Response, user string, subkeys map[string]struct{}) router.Response {
	for i, entry := range resp.Responses {
		if len(entry.Recipients) > 0 {
			continue
		}
		recipients := make([]string, 0, 1+len(subkeys))
		recipients = append(recipients, user)
		for subkey := range subkeys {
			recipients = append(recipients, subkey)
		}
		resp.Responses[i].Recipients = recipients
	}
	return resp
}
