package presenter

import (
	"net/url"
	"strconv"
)

// URLs builds the routable URLs of one message. Public URLs are keyed by
// the opaque id, private URLs by mailbox id and uid.
type URLs struct {
	public   bool
	publicID string
	base     string
}

// PublicURLs returns the URL scheme of the unauthenticated routes.
func PublicURLs(publicID string) URLs {
	return URLs{public: true, publicID: publicID, base: "/message/" + url.PathEscape(publicID)}
}

// PrivateURLs returns the URL scheme of the authenticated routes.
func PrivateURLs(mailboxID string, uid uint32) URLs {
	return URLs{base: "/messages/" + url.PathEscape(mailboxID) + "/" + strconv.FormatUint(uint64(uid), 10)}
}

// IsPublic reports whether these are unauthenticated URLs.
func (u URLs) IsPublic() bool {
	return u.public
}

// Message returns the URL of the message page.
func (u URLs) Message() string {
	return u.base
}

// Source returns the URL of the source page.
func (u URLs) Source() string {
	return u.base + "/source"
}

// Raw returns the URL of the .eml download.
func (u URLs) Raw() string {
	return u.base + "/message.eml"
}

// Attachment returns the URL of an attachment by its short id.
func (u URLs) Attachment(aid string) string {
	if u.public {
		return "/attachment/" + url.PathEscape(u.publicID) + "/" + url.PathEscape(aid)
	}
	return u.base + "/attachment/" + url.PathEscape(aid)
}
