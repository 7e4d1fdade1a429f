package mailbox

// Key prefix for role pointer sort keys.
const (
	PrefixMailbox = "MAILBOX#"
)

// Attribute names for DynamoDB items.
const (
	AttrMailboxID    = "mailboxId"
	AttrUserID       = "userId"
	AttrName         = "name"
	AttrRole         = "role"
	AttrUIDNext      = "uidNext"
	AttrTotalEmails  = "totalEmails"
	AttrUnreadEmails = "unreadEmails"
	AttrCreatedAt    = "createdAt"
)
