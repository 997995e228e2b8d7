package split

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ViewKind selects what a rendered ledger shows.
type ViewKind int

const (
	// ViewNobody keeps every transaction unsplit and adds the receivables
	// so the shared ledger still balances.
	ViewNobody ViewKind = iota
	// ViewEveryone splits each posting into per-party sub-accounts.
	ViewEveryone
	// ViewParty shows one party's share only.
	ViewParty
)

// Viewpoint is the rendering target of a pass.
type Viewpoint struct {
	Kind  ViewKind
	Party string
}

var (
	Nobody   = Viewpoint{Kind: ViewNobody}
	Everyone = Viewpoint{Kind: ViewEveryone}
)

// Party returns the viewpoint of a single party.
func Party(name string) Viewpoint {
	return Viewpoint{Kind: ViewParty, Party: name}
}

// ParseViewpoint accepts "nobody" (or ""), "everyone" or a capitalized
// party name.
func ParseViewpoint(s string) (Viewpoint, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nobody":
		return Nobody, nil
	case "everyone":
		return Everyone, nil
	}
	r, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsUpper(r) || strings.Contains(s, ":") {
		return Viewpoint{}, fmt.Errorf("%w: %q", ErrInvalidViewpoint, s)
	}
	return Party(s), nil
}

func (v Viewpoint) String() string {
	switch v.Kind {
	case ViewEveryone:
		return "everyone"
	case ViewParty:
		return v.Party
	default:
		return "nobody"
	}
}

// Is reports whether v is the viewpoint of party.
func (v Viewpoint) Is(party string) bool {
	return v.Kind == ViewParty && v.Party == party
}
