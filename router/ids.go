// Package router implements the message router: a single-writer actor
// that owns conversations, translates inbound relay events into typed
// conversation steps, and signs/encrypts/broadcasts their replies.
package router

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

const (
	idBodyLength   = 30
	idBodyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var portalIDPattern = regexp.MustCompile(`^p1[A-Za-z0-9]{30}$|^p2[A-Za-z0-9]+_(0|[1-9][0-9]*)$`)

// PortalId is the router's conversation handle and subscription id on the
// wire. It has exactly two text shapes: plain ("p1"+30 alphanumerics) and
// aliased ("p2"+body+"_"+alias number). Both shapes share the same body,
// which is what Id returns.
type PortalId struct {
	body     string
	alias    uint64
	hasAlias bool
}

// NewConversationId allocates a fresh plain id with a random 30-character
// alphanumeric body.
func NewConversationId() (PortalId, error) {
	body, err := randomAlphanumeric(idBodyLength)
	if err != nil {
		return PortalId{}, fmt.Errorf("generate portal id: %w", err)
	}
	return PortalId{body: body}, nil
}

// NewAlias builds an aliased id sharing the given body.
func NewAlias(body string, alias uint64) PortalId {
	return PortalId{body: body, alias: alias, hasAlias: true}
}

// ParsePortalId parses the bit-exact wire text form. It rejects any prefix
// or shape other than "p1<30-char-body>" or "p2<body>_<alias>".
func ParsePortalId(text string) (PortalId, error) {
	if !portalIDPattern.MatchString(text) {
		return PortalId{}, fmt.Errorf("%w: %q", ErrMalformedPortalId, text)
	}
	switch {
	case strings.HasPrefix(text, "p1"):
		return PortalId{body: text[2:]}, nil
	case strings.HasPrefix(text, "p2"):
		rest := text[2:]
		idx := strings.LastIndex(rest, "_")
		body := rest[:idx]
		aliasText := rest[idx+1:]
		alias, err := strconv.ParseUint(aliasText, 10, 64)
		if err != nil {
			return PortalId{}, fmt.Errorf("%w: %q", ErrMalformedPortalId, text)
		}
		return PortalId{body: body, alias: alias, hasAlias: true}, nil
	default:
		return PortalId{}, fmt.Errorf("%w: %q", ErrMalformedPortalId, text)
	}
}

// ToText is the inverse of ParsePortalId: ParsePortalId(x.ToText()) == x
// for every well-formed x.
func (p PortalId) ToText() string {
	if !p.hasAlias {
		return "p1" + p.body
	}
	return "p2" + p.body + "_" + strconv.FormatUint(p.alias, 10)
}

// Id returns the body shared by a conversation and all of its aliases.
func (p PortalId) Id() string { return p.body }

// IsAlias reports whether this id is an alias shape.
func (p PortalId) IsAlias() bool { return p.hasAlias }

func (p PortalId) String() string { return p.ToText() }

func randomAlphanumeric(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(idBodyAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = idBodyAlphabet[idx.Int64()]
	}
	return string(out), nil
}
