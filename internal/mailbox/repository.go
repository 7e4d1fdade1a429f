package mailbox

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Error types for repository operations.
var (
	ErrMailboxNotFound = errors.New("mailbox not found")
)

// Repository defines the interface for mailbox storage operations.
type Repository interface {
	GetMailbox(ctx context.Context, mailboxID string) (*MailboxItem, error)
	GetMailboxByRole(ctx context.Context, userID, role string) (*MailboxItem, error)
	BuildCreateItems(mailbox *MailboxItem) []types.TransactWriteItem
}
