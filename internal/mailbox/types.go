// Package mailbox provides mailbox records: owner, role, uid bound and counters.
package mailbox

import (
	"time"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
)

// Roles of the mailboxes every account is provisioned with.
const (
	RoleInbox  = "inbox"
	RoleSent   = "sent"
	RoleDrafts = "drafts"
	RoleTrash  = "trash"
	RoleJunk   = "junk"
)

// DefaultMailboxes lists the provisioned mailboxes by name and role, in order.
var DefaultMailboxes = []struct {
	Name string
	Role string
}{
	{"INBOX", RoleInbox},
	{"Sent Mail", RoleSent},
	{"Drafts", RoleDrafts},
	{"Trash", RoleTrash},
	{"Junk", RoleJunk},
}

// MailboxItem represents a mailbox stored in DynamoDB.
type MailboxItem struct {
	MailboxID string
	UserID    string
	Name      string
	Role      string
	// UIDNext is the uid the next delivered message will receive.
	UIDNext      uint32
	TotalEmails  int
	UnreadEmails int
	CreatedAt    time.Time
}

// PK returns the DynamoDB partition key for this mailbox.
func (m *MailboxItem) PK() string {
	return dynamo.PrefixMailbox + m.MailboxID
}

// SK returns the DynamoDB sort key for this mailbox.
func (m *MailboxItem) SK() string {
	return dynamo.SKMeta
}

// RolePK returns the partition key of the owner's role pointer.
func (m *MailboxItem) RolePK() string {
	return dynamo.PrefixAccount + m.UserID
}

// RoleSK returns the sort key of the owner's role pointer.
func (m *MailboxItem) RoleSK() string {
	return RoleKey(m.Role)
}

// RoleKey returns the sort key of a role pointer.
func RoleKey(role string) string {
	return PrefixMailbox + role
}
