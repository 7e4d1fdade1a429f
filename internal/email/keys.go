package email

import (
	"fmt"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
)

// PrefixUID prefixes message sort keys within a mailbox partition.
const PrefixUID = "UID#"

// Attribute names for message and attachment items.
const (
	AttrMessageID        = "messageId"
	AttrMailboxID        = "mailboxId"
	AttrUserID           = "userId"
	AttrUID              = "uid"
	AttrThreadID         = "threadId"
	AttrMeta             = "meta"
	AttrHeaderDate       = "hdate"
	AttrParsedHeader     = "parsedHeader"
	AttrMsgID            = "msgid"
	AttrExpires          = "exp"
	AttrRetentionDate    = "rdate"
	AttrUnseen           = "unseen"
	AttrUndeleted        = "undeleted"
	AttrFlagged          = "flagged"
	AttrDraft            = "draft"
	AttrIntro            = "intro"
	AttrHasAttachments   = "hasAttachments"
	AttrOutbound         = "outbound"
	AttrAttachments      = "attachments"
	AttrAttachmentMap    = "attachmentMap"
	AttrHTML             = "html"
	AttrText             = "text"
	AttrBlobID           = "blobId"
	AttrSize             = "size"
	AttrSubjectLower     = "subjectLower"
	AttrContentType      = "contentType"
	AttrTransferEncoding = "transferEncoding"
)

// UIDKey returns the sort key of the message with the given uid. The uid is
// zero padded so that lexical order matches numeric order.
func UIDKey(uid uint32) string {
	return fmt.Sprintf("%s%010d", PrefixUID, uid)
}

// MailboxKey returns the partition key of a mailbox and its messages.
func MailboxKey(mailboxID string) string {
	return dynamo.PrefixMailbox + mailboxID
}

// AttachmentKey returns the partition key of an attachment.
func AttachmentKey(attachmentID string) string {
	return dynamo.PrefixAttachment + attachmentID
}

var projections = map[Fields][]string{
	FieldsView: {
		AttrMessageID, AttrUserID, AttrUID, AttrThreadID, AttrMeta, AttrHeaderDate,
		AttrParsedHeader, AttrMsgID, AttrExpires, AttrRetentionDate, AttrUnseen,
		AttrUndeleted, AttrFlagged, AttrDraft, AttrAttachments, AttrHTML, AttrText,
	},
	FieldsSource: {
		AttrMessageID, AttrUserID, AttrUID, AttrParsedHeader, AttrBlobID, AttrSize,
	},
	FieldsAttachment: {
		AttrMessageID, AttrUserID, AttrUID, AttrAttachments, AttrAttachmentMap,
	},
	FieldsListing: {
		AttrMessageID, AttrUserID, AttrUID, AttrMeta, AttrHeaderDate, AttrParsedHeader,
		AttrIntro, AttrHasAttachments, AttrUnseen, AttrUndeleted, AttrFlagged,
		AttrDraft, AttrOutbound,
	},
}
