package listing

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/mailbox"
)

// Page size bounds.
const (
	DefaultLimit = 20
	MinLimit     = 1
	MaxLimit     = 250
)

// Sort orders by uid.
const (
	OrderDesc = "desc"
	OrderAsc  = "asc"
)

// ErrValidation is wrapped by every rejected listing parameter.
var ErrValidation = errors.New("invalid listing parameters")

const (
	cursorNext byte = 'n'
	cursorPrev byte = 'p'
	cursorLen       = 5
)

// cursor is a uid boundary and the direction to read from it.
type cursor struct {
	kind byte
	uid  uint32
}

func (c cursor) String() string {
	var b [cursorLen]byte
	b[0] = c.kind
	binary.BigEndian.PutUint32(b[1:], c.uid)
	return base64.RawURLEncoding.EncodeToString(b[:])
}

func parseCursor(s string, kind byte) (cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(b) != cursorLen || b[0] != kind {
		return cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	return cursor{kind: kind, uid: binary.BigEndian.Uint32(b[1:])}, nil
}

// Params are the validated inputs of one listing request.
type Params struct {
	Role   string
	Limit  int
	Order  string
	Page   int
	Filter email.Filter

	next *cursor
	prev *cursor
}

var roles = map[string]bool{}

func init() {
	for _, m := range mailbox.DefaultMailboxes {
		roles[m.Role] = true
	}
}

// ParseQuery validates listing query parameters. Out of range limits are
// rejected, not clamped. When both cursors are present the forward one wins.
func ParseQuery(q url.Values) (Params, error) {
	p := Params{
		Role:  mailbox.RoleInbox,
		Limit: DefaultLimit,
		Order: OrderDesc,
		Page:  1,
	}

	if v := q.Get("mailbox"); v != "" {
		if !roles[v] {
			return Params{}, fmt.Errorf("%w: unknown mailbox %q", ErrValidation, v)
		}
		p.Role = v
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < MinLimit || n > MaxLimit {
			return Params{}, fmt.Errorf("%w: limit must be a number between %d and %d", ErrValidation, MinLimit, MaxLimit)
		}
		p.Limit = n
	}

	switch v := strings.ToLower(q.Get("order")); v {
	case "":
	case OrderAsc, OrderDesc:
		p.Order = v
	default:
		return Params{}, fmt.Errorf("%w: order must be %q or %q", ErrValidation, OrderAsc, OrderDesc)
	}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Params{}, fmt.Errorf("%w: page must be a positive number", ErrValidation)
		}
		p.Page = n
	}

	if v := q.Get("next"); v != "" {
		c, err := parseCursor(v, cursorNext)
		if err != nil {
			return Params{}, err
		}
		p.next = &c
	} else if v := q.Get("previous"); v != "" {
		c, err := parseCursor(v, cursorPrev)
		if err != nil {
			return Params{}, err
		}
		p.prev = &c
	}

	switch q.Get("unseen") {
	case "", "0", "false":
	case "1", "true":
		p.Filter.Unseen = true
	default:
		return Params{}, fmt.Errorf("%w: unseen must be 0 or 1", ErrValidation)
	}
	p.Filter.Subject = strings.TrimSpace(q.Get("q"))

	return p, nil
}

// values returns the query parameters that reproduce p without cursors.
func (p Params) values() url.Values {
	v := url.Values{}
	if p.Role != mailbox.RoleInbox {
		v.Set("mailbox", p.Role)
	}
	if p.Limit != DefaultLimit {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Order != OrderDesc {
		v.Set("order", p.Order)
	}
	if p.Filter.Unseen {
		v.Set("unseen", "1")
	}
	if p.Filter.Subject != "" {
		v.Set("q", p.Filter.Subject)
	}
	return v
}
