package mailbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
)

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoDBRepository implements Repository using DynamoDB.
type DynamoDBRepository struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBRepository creates a new DynamoDBRepository.
func NewDynamoDBRepository(client DynamoDBClient, tableName string) *DynamoDBRepository {
	return &DynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

// GetMailbox retrieves a single mailbox by ID.
func (r *DynamoDBRepository) GetMailbox(ctx context.Context, mailboxID string) (*MailboxItem, error) {
	mailbox := &MailboxItem{MailboxID: mailboxID}

	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: mailbox.PK()},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: mailbox.SK()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}

	if output.Item == nil {
		return nil, ErrMailboxNotFound
	}

	return unmarshalMailboxItem(output.Item), nil
}

// GetMailboxByRole resolves the user's mailbox with the given role.
func (r *DynamoDBRepository) GetMailboxByRole(ctx context.Context, userID, role string) (*MailboxItem, error) {
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.PrefixAccount + userID},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: RoleKey(role)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox pointer: %w", err)
	}
	if output.Item == nil {
		return nil, ErrMailboxNotFound
	}

	v, ok := output.Item[AttrMailboxID].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return nil, ErrMailboxNotFound
	}

	mailbox, err := r.GetMailbox(ctx, v.Value)
	if err != nil {
		return nil, err
	}
	if mailbox.UserID != userID {
		// A pointer to another user's mailbox is a dangling pointer.
		return nil, ErrMailboxNotFound
	}
	return mailbox, nil
}

// BuildCreateItems returns the transaction items that create a mailbox and
// its role pointer. Both puts fail if the item already exists.
func (r *DynamoDBRepository) BuildCreateItems(mailbox *MailboxItem) []types.TransactWriteItem {
	return []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                marshalMailboxItem(mailbox),
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		},
		{
			Put: &types.Put{
				TableName: aws.String(r.tableName),
				Item: map[string]types.AttributeValue{
					dynamo.AttrPK:  &types.AttributeValueMemberS{Value: mailbox.RolePK()},
					dynamo.AttrSK:  &types.AttributeValueMemberS{Value: mailbox.RoleSK()},
					AttrMailboxID: &types.AttributeValueMemberS{Value: mailbox.MailboxID},
				},
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		},
	}
}

func marshalMailboxItem(mailbox *MailboxItem) map[string]types.AttributeValue {
	uidNext := mailbox.UIDNext
	if uidNext == 0 {
		uidNext = 1
	}
	return map[string]types.AttributeValue{
		dynamo.AttrPK:    &types.AttributeValueMemberS{Value: mailbox.PK()},
		dynamo.AttrSK:    &types.AttributeValueMemberS{Value: mailbox.SK()},
		AttrMailboxID:    &types.AttributeValueMemberS{Value: mailbox.MailboxID},
		AttrUserID:       &types.AttributeValueMemberS{Value: mailbox.UserID},
		AttrName:         &types.AttributeValueMemberS{Value: mailbox.Name},
		AttrRole:         &types.AttributeValueMemberS{Value: mailbox.Role},
		AttrUIDNext:      &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(uidNext), 10)},
		AttrTotalEmails:  &types.AttributeValueMemberN{Value: strconv.Itoa(mailbox.TotalEmails)},
		AttrUnreadEmails: &types.AttributeValueMemberN{Value: strconv.Itoa(mailbox.UnreadEmails)},
		AttrCreatedAt:    &types.AttributeValueMemberS{Value: mailbox.CreatedAt.UTC().Format(time.RFC3339)},
	}
}

func unmarshalMailboxItem(item map[string]types.AttributeValue) *MailboxItem {
	mailbox := &MailboxItem{}

	if v, ok := item[AttrMailboxID].(*types.AttributeValueMemberS); ok {
		mailbox.MailboxID = v.Value
	}
	if v, ok := item[AttrUserID].(*types.AttributeValueMemberS); ok {
		mailbox.UserID = v.Value
	}
	if v, ok := item[AttrName].(*types.AttributeValueMemberS); ok {
		mailbox.Name = v.Value
	}
	if v, ok := item[AttrRole].(*types.AttributeValueMemberS); ok {
		mailbox.Role = v.Value
	}
	if v, ok := item[AttrUIDNext].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.ParseUint(v.Value, 10, 32); err == nil {
			mailbox.UIDNext = uint32(n)
		}
	}
	if v, ok := item[AttrTotalEmails].(*types.AttributeValueMemberN); ok {
		mailbox.TotalEmails, _ = strconv.Atoi(v.Value)
	}
	if v, ok := item[AttrUnreadEmails].(*types.AttributeValueMemberN); ok {
		mailbox.UnreadEmails, _ = strconv.Atoi(v.Value)
	}
	if v, ok := item[AttrCreatedAt].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			mailbox.CreatedAt = t
		}
	}

	return mailbox
}
