package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/jmap-service-libs/dbclient"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
)

// Error types for repository operations.
var (
	ErrMessageNotFound    = errors.New("message not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Repository reads message records and updates their flags.
type Repository struct {
	client    DynamoDBClient
	tableName string
}

// NewRepository creates a new Repository.
func NewRepository(client DynamoDBClient, tableName string) *Repository {
	return &Repository{
		client:    client,
		tableName: tableName,
	}
}

// GetMessage retrieves the message with the given uid in a mailbox.
func (r *Repository) GetMessage(ctx context.Context, mailboxID string, uid uint32, fields Fields) (*Message, error) {
	proj, names := projection(fields)

	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      messageKey(mailboxID, uid),
		ProjectionExpression:     aws.String(proj),
		ExpressionAttributeNames: names,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if output.Item == nil {
		return nil, ErrMessageNotFound
	}

	return unmarshalMessage(mailboxID, output.Item), nil
}

// QueryMessages returns up to q.Limit messages with uids in [q.MinUID, q.MaxUID]
// that match q.Filter, in uid order.
func (r *Repository) QueryMessages(ctx context.Context, mailboxID string, q Query) (*Page, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("query limit must be positive, got %d", q.Limit)
	}
	if q.MinUID < 1 {
		q.MinUID = 1
	}
	if q.MaxUID < q.MinUID {
		return &Page{}, nil
	}

	proj, names := projection(FieldsListing)
	input := r.rangeQuery(mailboxID, q.MinUID, q.MaxUID, q.Filter, names)
	input.ProjectionExpression = aws.String(proj)
	input.ScanIndexForward = aws.Bool(!q.Descending)

	page := &Page{}
	for {
		// Limit counts items before the filter is applied, so keep reading
		// until one message past the page has been seen or the range ends.
		input.Limit = aws.Int32(int32(q.Limit + 1 - len(page.Messages)))

		output, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query messages: %w", err)
		}
		for _, item := range output.Items {
			page.Messages = append(page.Messages, unmarshalMessage(mailboxID, item))
		}

		if len(page.Messages) > q.Limit {
			page.Messages = page.Messages[:q.Limit]
			page.More = true
			return page, nil
		}
		if len(output.LastEvaluatedKey) == 0 {
			return page, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// CountMessages counts messages with uids in [1, maxUID] that match filter.
// This reads every matching item, so callers should prefer the mailbox
// counters for the trivial filter.
func (r *Repository) CountMessages(ctx context.Context, mailboxID string, maxUID uint32, filter Filter) (int, error) {
	if maxUID < 1 {
		return 0, nil
	}

	input := r.rangeQuery(mailboxID, 1, maxUID, filter, map[string]string{})
	input.Select = types.SelectCount

	total := 0
	for {
		output, err := r.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("failed to count messages: %w", err)
		}
		total += int(output.Count)
		if len(output.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// MarkSeen clears the unseen flag of a message.
func (r *Repository) MarkSeen(ctx context.Context, mailboxID string, uid uint32) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 messageKey(mailboxID, uid),
		UpdateExpression:    aws.String("SET #unseen = :false"),
		ConditionExpression: aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#unseen": AttrUnseen,
			"#pk":     dynamo.AttrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		if dbclient.IsConditionalCheckFailed(err) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	return nil
}

// GetAttachment retrieves the metadata of a stored attachment.
func (r *Repository) GetAttachment(ctx context.Context, attachmentID string) (*AttachmentMeta, error) {
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: AttachmentKey(attachmentID)},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.SKMeta},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	if output.Item == nil {
		return nil, ErrAttachmentNotFound
	}

	return &AttachmentMeta{
		AttachmentID:     attachmentID,
		ContentType:      getS(output.Item, AttrContentType),
		TransferEncoding: strings.ToLower(getS(output.Item, AttrTransferEncoding)),
		BlobID:           getS(output.Item, AttrBlobID),
		Size:             getN(output.Item, AttrSize),
	}, nil
}

func messageKey(mailboxID string, uid uint32) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: MailboxKey(mailboxID)},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: UIDKey(uid)},
	}
}

// rangeQuery builds a query over the uid range [lo, hi] of a mailbox with the
// filter applied. names is extended with the placeholders it uses.
func (r *Repository) rangeQuery(mailboxID string, lo, hi uint32, filter Filter, names map[string]string) *dynamodb.QueryInput {
	names["#pk"] = dynamo.AttrPK
	names["#sk"] = dynamo.AttrSK
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: MailboxKey(mailboxID)},
		":lo": &types.AttributeValueMemberS{Value: UIDKey(lo)},
		":hi": &types.AttributeValueMemberS{Value: UIDKey(hi)},
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String("#pk = :pk AND #sk BETWEEN :lo AND :hi"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}

	var conds []string
	if filter.Unseen {
		names["#unseen"] = AttrUnseen
		values[":true"] = &types.AttributeValueMemberBOOL{Value: true}
		conds = append(conds, "#unseen = :true")
	}
	if q := SubjectKey(filter.Subject); q != "" {
		names["#subjectLower"] = AttrSubjectLower
		values[":q"] = &types.AttributeValueMemberS{Value: q}
		conds = append(conds, "contains(#subjectLower, :q)")
	}
	if len(conds) > 0 {
		input.FilterExpression = aws.String(strings.Join(conds, " AND "))
	}
	return input
}

// projection returns a projection expression for fields with every attribute
// behind a placeholder, since several attribute names are reserved words.
func projection(fields Fields) (string, map[string]string) {
	attrs := projections[fields]
	names := make(map[string]string, len(attrs)+2)
	parts := make([]string, len(attrs))
	for i, attr := range attrs {
		ph := "#p" + strconv.Itoa(i)
		names[ph] = attr
		parts[i] = ph
	}
	return strings.Join(parts, ", "), names
}

func unmarshalMessage(mailboxID string, item map[string]types.AttributeValue) *Message {
	msg := &Message{
		MailboxID:      mailboxID,
		UID:            uint32(getN(item, AttrUID)),
		MessageID:      getS(item, AttrMessageID),
		UserID:         getS(item, AttrUserID),
		ThreadID:       getS(item, AttrThreadID),
		HeaderDate:     getTime(item, AttrHeaderDate),
		MsgID:          getS(item, AttrMsgID),
		Expires:        getBool(item, AttrExpires),
		RetentionDate:  getTime(item, AttrRetentionDate),
		Unseen:         getBool(item, AttrUnseen),
		Undeleted:      getBool(item, AttrUndeleted),
		Flagged:        getBool(item, AttrFlagged),
		Draft:          getBool(item, AttrDraft),
		Intro:          getS(item, AttrIntro),
		HasAttachments: getBool(item, AttrHasAttachments),
		Outbound:       getStringList(item, AttrOutbound),
		HTML:           getStringList(item, AttrHTML),
		Text:           getS(item, AttrText),
		BlobID:         getS(item, AttrBlobID),
		Size:           getN(item, AttrSize),
	}

	if v, ok := item[AttrMeta].(*types.AttributeValueMemberM); ok {
		msg.Meta = Meta{
			From:       getS(v.Value, "from"),
			To:         getS(v.Value, "to"),
			Origin:     getS(v.Value, "origin"),
			OriginHost: getS(v.Value, "originhost"),
			TransHost:  getS(v.Value, "transhost"),
			TransType:  getS(v.Value, "transtype"),
			Time:       getTime(v.Value, "time"),
		}
	}

	// Malformed JSON leaves the header or attachment list empty rather than
	// failing the whole read.
	if v := getS(item, AttrParsedHeader); v != "" {
		var h ParsedHeader
		if json.Unmarshal([]byte(v), &h) == nil {
			msg.Header = &h
		}
	}
	if v := getS(item, AttrAttachments); v != "" {
		_ = json.Unmarshal([]byte(v), &msg.Attachments)
	}

	if v, ok := item[AttrAttachmentMap].(*types.AttributeValueMemberM); ok {
		msg.AttachmentMap = make(map[string]string, len(v.Value))
		for k := range v.Value {
			msg.AttachmentMap[k] = getS(v.Value, k)
		}
	}

	return msg
}

func getS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getN(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func getBool(item map[string]types.AttributeValue, name string) bool {
	if v, ok := item[name].(*types.AttributeValueMemberBOOL); ok {
		return v.Value
	}
	return false
}

func getTime(item map[string]types.AttributeValue, name string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, getS(item, name)); err == nil {
		return t
	}
	return time.Time{}
}

func getStringList(item map[string]types.AttributeValue, name string) []string {
	v, ok := item[name].(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	strs := make([]string, 0, len(v.Value))
	for _, e := range v.Value {
		if s, ok := e.(*types.AttributeValueMemberS); ok {
			strs = append(strs, s.Value)
		}
	}
	return strs
}
