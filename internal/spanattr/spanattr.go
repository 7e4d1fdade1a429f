// Package spanattr holds the span attributes specific to webmail requests.
package spanattr

import "go.opentelemetry.io/otel/attribute"

// UserID returns the span attribute for a user id.
func UserID(id string) attribute.KeyValue { return attribute.String("user_id", id) }

// MailboxID returns the span attribute for a mailbox id.
func MailboxID(id string) attribute.KeyValue { return attribute.String("mailbox_id", id) }

// UID returns the span attribute for a message uid.
func UID(uid uint32) attribute.KeyValue { return attribute.Int64("uid", int64(uid)) }

// AttachmentID returns the span attribute for an attachment short id.
func AttachmentID(id string) attribute.KeyValue { return attribute.String("attachment_id", id) }
