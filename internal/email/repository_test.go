package email

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo/dynamotest"
)

const testMailbox = "5a1f3c0e9b1d4e0012345678"

func messageItem(uid uint32, unseen bool, subject string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":           &types.AttributeValueMemberS{Value: MailboxKey(testMailbox)},
		"sk":           &types.AttributeValueMemberS{Value: UIDKey(uid)},
		"uid":          &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(uid), 10)},
		"messageId":    &types.AttributeValueMemberS{Value: "msg-" + strconv.Itoa(int(uid))},
		"userId":       &types.AttributeValueMemberS{Value: "user-1"},
		"unseen":       &types.AttributeValueMemberBOOL{Value: unseen},
		"subjectLower": &types.AttributeValueMemberS{Value: strings.ToLower(subject)},
	}
}

// fakeTable answers range queries over one mailbox partition the way DynamoDB
// does: Limit applies before the filter and LastEvaluatedKey marks the last
// item read.
type fakeTable struct {
	items []map[string]types.AttributeValue
	calls int
}

func (f *fakeTable) query(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.calls++
	lo := input.ExpressionAttributeValues[":lo"].(*types.AttributeValueMemberS).Value
	hi := input.ExpressionAttributeValues[":hi"].(*types.AttributeValueMemberS).Value

	var inRange []map[string]types.AttributeValue
	for _, item := range f.items {
		sk := item["sk"].(*types.AttributeValueMemberS).Value
		if sk >= lo && sk <= hi {
			inRange = append(inRange, item)
		}
	}
	sort.Slice(inRange, func(i, j int) bool {
		a := inRange[i]["sk"].(*types.AttributeValueMemberS).Value
		b := inRange[j]["sk"].(*types.AttributeValueMemberS).Value
		if aws.ToBool(input.ScanIndexForward) {
			return a < b
		}
		return a > b
	})

	start := 0
	if input.ExclusiveStartKey != nil {
		after := input.ExclusiveStartKey["sk"].(*types.AttributeValueMemberS).Value
		for i, item := range inRange {
			if item["sk"].(*types.AttributeValueMemberS).Value == after {
				start = i + 1
			}
		}
	}

	limit := len(inRange)
	if input.Limit != nil {
		limit = int(*input.Limit)
	}

	out := &dynamodb.QueryOutput{}
	read := 0
	for i := start; i < len(inRange) && read < limit; i++ {
		item := inRange[i]
		read++
		if matches(input, item) {
			out.Count++
			if input.Select != types.SelectCount {
				out.Items = append(out.Items, item)
			}
		}
		if read == limit && i < len(inRange)-1 {
			out.LastEvaluatedKey = map[string]types.AttributeValue{"pk": item["pk"], "sk": item["sk"]}
		}
	}
	return out, nil
}

func matches(input *dynamodb.QueryInput, item map[string]types.AttributeValue) bool {
	expr := aws.ToString(input.FilterExpression)
	if strings.Contains(expr, "#unseen = :true") {
		if !item["unseen"].(*types.AttributeValueMemberBOOL).Value {
			return false
		}
	}
	if strings.Contains(expr, "contains(#subjectLower, :q)") {
		q := input.ExpressionAttributeValues[":q"].(*types.AttributeValueMemberS).Value
		if !strings.Contains(item["subjectLower"].(*types.AttributeValueMemberS).Value, q) {
			return false
		}
	}
	return true
}

func uids(msgs []*Message) []uint32 {
	out := make([]uint32, len(msgs))
	for i, m := range msgs {
		out[i] = m.UID
	}
	return out
}

func equalUIDs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRepository_GetMessage(t *testing.T) {
	received := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)

	var captured *dynamodb.GetItemInput
	client := &dynamotest.MockClient{
		GetItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			captured = input
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				"uid":       &types.AttributeValueMemberN{Value: "7"},
				"messageId": &types.AttributeValueMemberS{Value: "5a1f3c0e9b1d4e00abcdef01"},
				"userId":    &types.AttributeValueMemberS{Value: "user-1"},
				"meta": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
					"from":      &types.AttributeValueMemberS{Value: "bounce@sender.example"},
					"to":        &types.AttributeValueMemberS{Value: "rcpt@example.com"},
					"origin":    &types.AttributeValueMemberS{Value: "192.0.2.1"},
					"transtype": &types.AttributeValueMemberS{Value: "ESMTP"},
					"time":      &types.AttributeValueMemberS{Value: received.Format(time.RFC3339)},
				}},
				"hdate":         &types.AttributeValueMemberS{Value: received.Format(time.RFC3339)},
				"parsedHeader":  &types.AttributeValueMemberS{Value: `{"subject":"=?UTF-8?Q?Hi?=","from":[{"name":"Alice","address":"alice@example.com"}],"content-type":{"value":"multipart/encrypted","subtype":"encrypted","params":{"protocol":"application/pgp-encrypted"}}}`},
				"unseen":        &types.AttributeValueMemberBOOL{Value: true},
				"undeleted":     &types.AttributeValueMemberBOOL{Value: true},
				"attachments":   &types.AttributeValueMemberS{Value: `[{"id":"ATT00001","filename":"a.txt","contentType":"text/plain","sizeKb":2}]`},
				"attachmentMap": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"ATT00001": &types.AttributeValueMemberS{Value: "att-abc"}}},
				"html":          &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: "<p>hi</p>"}}},
				"outbound":      &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: "queue-1"}}},
			}}, nil
		},
	}

	repo := NewRepository(client, "test-table")
	msg, err := repo.GetMessage(context.Background(), testMailbox, 7, FieldsView)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}

	if pk := captured.Key["pk"].(*types.AttributeValueMemberS).Value; pk != "MAILBOX#"+testMailbox {
		t.Errorf("pk = %q, want %q", pk, "MAILBOX#"+testMailbox)
	}
	if sk := captured.Key["sk"].(*types.AttributeValueMemberS).Value; sk != "UID#0000000007" {
		t.Errorf("sk = %q, want %q", sk, "UID#0000000007")
	}
	if *captured.TableName != "test-table" {
		t.Errorf("TableName = %q, want %q", *captured.TableName, "test-table")
	}
	for ph := range captured.ExpressionAttributeNames {
		if !strings.Contains(*captured.ProjectionExpression, ph) {
			t.Errorf("placeholder %q not used in projection %q", ph, *captured.ProjectionExpression)
		}
	}

	if msg.MailboxID != testMailbox || msg.UID != 7 {
		t.Errorf("ref = %s/%d, want %s/7", msg.MailboxID, msg.UID, testMailbox)
	}
	if msg.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", msg.UserID, "user-1")
	}
	if msg.Meta.From != "bounce@sender.example" || msg.Meta.TransType != "ESMTP" {
		t.Errorf("Meta = %+v", msg.Meta)
	}
	if !msg.Meta.Time.Equal(received) || !msg.HeaderDate.Equal(received) {
		t.Errorf("times = %v / %v, want %v", msg.Meta.Time, msg.HeaderDate, received)
	}
	if msg.Header == nil || msg.Header.Subject != "=?UTF-8?Q?Hi?=" {
		t.Fatalf("Header = %+v", msg.Header)
	}
	if len(msg.Header.From) != 1 || msg.Header.From[0].Address != "alice@example.com" {
		t.Errorf("Header.From = %+v", msg.Header.From)
	}
	if msg.Header.ContentType.Subtype != "encrypted" || !msg.Header.ContentType.HasParams() {
		t.Errorf("ContentType = %+v", msg.Header.ContentType)
	}
	if !msg.Unseen || !msg.Undeleted || msg.Flagged {
		t.Errorf("flags unseen=%v undeleted=%v flagged=%v", msg.Unseen, msg.Undeleted, msg.Flagged)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].SizeKB != 2 {
		t.Errorf("Attachments = %+v", msg.Attachments)
	}
	if msg.AttachmentMap["ATT00001"] != "att-abc" {
		t.Errorf("AttachmentMap = %v", msg.AttachmentMap)
	}
	if len(msg.HTML) != 1 || len(msg.Outbound) != 1 {
		t.Errorf("HTML = %v, Outbound = %v", msg.HTML, msg.Outbound)
	}
}

func TestRepository_GetMessage_MalformedJSON(t *testing.T) {
	client := &dynamotest.MockClient{
		GetItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				"uid":          &types.AttributeValueMemberN{Value: "1"},
				"parsedHeader": &types.AttributeValueMemberS{Value: "{not json"},
				"attachments":  &types.AttributeValueMemberS{Value: "[oops"},
			}}, nil
		},
	}

	msg, err := NewRepository(client, "t").GetMessage(context.Background(), testMailbox, 1, FieldsView)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if msg.Header != nil {
		t.Errorf("Header = %+v, want nil", msg.Header)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments = %+v, want none", msg.Attachments)
	}
}

func TestRepository_GetMessage_NotFound(t *testing.T) {
	repo := NewRepository(&dynamotest.MockClient{}, "test-table")
	_, err := repo.GetMessage(context.Background(), testMailbox, 1, FieldsSource)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("error = %v, want ErrMessageNotFound", err)
	}
}

func TestRepository_GetMessage_Error(t *testing.T) {
	upstream := errors.New("throttled")
	client := &dynamotest.MockClient{
		GetItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return nil, upstream
		},
	}
	_, err := NewRepository(client, "t").GetMessage(context.Background(), testMailbox, 1, FieldsView)
	if !errors.Is(err, upstream) {
		t.Errorf("error = %v, want wrapped %v", err, upstream)
	}
	if errors.Is(err, ErrMessageNotFound) {
		t.Error("upstream error must not look like not found")
	}
}

func TestRepository_QueryMessages_Pages(t *testing.T) {
	table := &fakeTable{}
	for uid := uint32(1); uid <= 12; uid++ {
		table.items = append(table.items, messageItem(uid, uid%3 == 0, "subject"))
	}
	client := &dynamotest.MockClient{QueryFunc: table.query}
	repo := NewRepository(client, "t")

	tests := []struct {
		name     string
		query    Query
		wantUIDs []uint32
		wantMore bool
	}{
		{"ascending first page", Query{MinUID: 1, MaxUID: 12, Limit: 5}, []uint32{1, 2, 3, 4, 5}, true},
		{"descending first page", Query{MinUID: 1, MaxUID: 12, Limit: 5, Descending: true}, []uint32{12, 11, 10, 9, 8}, true},
		{"last page exact", Query{MinUID: 9, MaxUID: 12, Limit: 4}, []uint32{9, 10, 11, 12}, false},
		{"bounded by max uid", Query{MinUID: 1, MaxUID: 3, Limit: 10}, []uint32{1, 2, 3}, false},
		{"unseen filter spans reads", Query{MinUID: 1, MaxUID: 12, Limit: 2, Filter: Filter{Unseen: true}}, []uint32{3, 6}, true},
		{"unseen filter tail", Query{MinUID: 7, MaxUID: 12, Limit: 5, Filter: Filter{Unseen: true}}, []uint32{9, 12}, false},
		{"empty range", Query{MinUID: 13, MaxUID: 12, Limit: 5}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.QueryMessages(context.Background(), testMailbox, tt.query)
			if err != nil {
				t.Fatalf("QueryMessages failed: %v", err)
			}
			if got := uids(page.Messages); !equalUIDs(got, tt.wantUIDs) {
				t.Errorf("uids = %v, want %v", got, tt.wantUIDs)
			}
			if page.More != tt.wantMore {
				t.Errorf("More = %v, want %v", page.More, tt.wantMore)
			}
		})
	}
}

func TestRepository_QueryMessages_SubjectFilter(t *testing.T) {
	table := &fakeTable{items: []map[string]types.AttributeValue{
		messageItem(1, false, "Invoice March"),
		messageItem(2, false, "Lunch"),
		messageItem(3, false, "Your INVOICE"),
	}}
	var captured *dynamodb.QueryInput
	client := &dynamotest.MockClient{
		QueryFunc: func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			captured = input
			return table.query(ctx, input, opts...)
		},
	}

	page, err := NewRepository(client, "t").QueryMessages(context.Background(), testMailbox, Query{
		MinUID: 1, MaxUID: 3, Limit: 10, Filter: Filter{Subject: "  Invoice "},
	})
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	if got := uids(page.Messages); !equalUIDs(got, []uint32{1, 3}) {
		t.Errorf("uids = %v, want [1 3]", got)
	}
	if q := captured.ExpressionAttributeValues[":q"].(*types.AttributeValueMemberS).Value; q != "invoice" {
		t.Errorf(":q = %q, want %q", q, "invoice")
	}
	if *captured.KeyConditionExpression != "#pk = :pk AND #sk BETWEEN :lo AND :hi" {
		t.Errorf("KeyConditionExpression = %q", *captured.KeyConditionExpression)
	}
}

func TestRepository_QueryMessages_InvalidLimit(t *testing.T) {
	_, err := NewRepository(&dynamotest.MockClient{}, "t").QueryMessages(context.Background(), testMailbox, Query{MaxUID: 5})
	if err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestRepository_CountMessages(t *testing.T) {
	table := &fakeTable{}
	for uid := uint32(1); uid <= 10; uid++ {
		table.items = append(table.items, messageItem(uid, uid%2 == 0, "s"))
	}
	client := &dynamotest.MockClient{
		QueryFunc: func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			if input.Select != types.SelectCount {
				t.Errorf("Select = %q, want COUNT", input.Select)
			}
			input.Limit = aws.Int32(3)
			return table.query(ctx, input, opts...)
		},
	}

	n, err := NewRepository(client, "t").CountMessages(context.Background(), testMailbox, 10, Filter{Unseen: true})
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
	if table.calls != 4 {
		t.Errorf("query calls = %d, want 4", table.calls)
	}

	n, err = NewRepository(client, "t").CountMessages(context.Background(), testMailbox, 0, Filter{})
	if err != nil || n != 0 {
		t.Errorf("CountMessages(maxUID 0) = %d, %v; want 0, nil", n, err)
	}
}

func TestRepository_MarkSeen(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	client := &dynamotest.MockClient{
		UpdateItemFunc: func(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = input
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}

	if err := NewRepository(client, "t").MarkSeen(context.Background(), testMailbox, 42); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if *captured.UpdateExpression != "SET #unseen = :false" {
		t.Errorf("UpdateExpression = %q", *captured.UpdateExpression)
	}
	if sk := captured.Key["sk"].(*types.AttributeValueMemberS).Value; sk != "UID#0000000042" {
		t.Errorf("sk = %q, want %q", sk, "UID#0000000042")
	}
}

func TestRepository_MarkSeen_Missing(t *testing.T) {
	client := &dynamotest.MockClient{
		UpdateItemFunc: func(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("failed")}
		},
	}
	err := NewRepository(client, "t").MarkSeen(context.Background(), testMailbox, 1)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("error = %v, want ErrMessageNotFound", err)
	}
}

func TestRepository_GetAttachment(t *testing.T) {
	client := &dynamotest.MockClient{
		GetItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			if pk := input.Key["pk"].(*types.AttributeValueMemberS).Value; pk != "ATTACHMENT#att-1" {
				t.Errorf("pk = %q, want %q", pk, "ATTACHMENT#att-1")
			}
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				"contentType":      &types.AttributeValueMemberS{Value: "image/png"},
				"transferEncoding": &types.AttributeValueMemberS{Value: "BASE64"},
				"blobId":           &types.AttributeValueMemberS{Value: "blob-9"},
				"size":             &types.AttributeValueMemberN{Value: "1024"},
			}}, nil
		},
	}

	meta, err := NewRepository(client, "t").GetAttachment(context.Background(), "att-1")
	if err != nil {
		t.Fatalf("GetAttachment failed: %v", err)
	}
	if meta.ContentType != "image/png" || meta.TransferEncoding != "base64" || meta.BlobID != "blob-9" || meta.Size != 1024 {
		t.Errorf("meta = %+v", meta)
	}
}

func TestRepository_GetAttachment_NotFound(t *testing.T) {
	_, err := NewRepository(&dynamotest.MockClient{}, "t").GetAttachment(context.Background(), "nope")
	if !errors.Is(err, ErrAttachmentNotFound) {
		t.Errorf("error = %v, want ErrAttachmentNotFound", err)
	}
}

func TestFilter_IsTrivial(t *testing.T) {
	if !(Filter{}).IsTrivial() {
		t.Error("zero filter should be trivial")
	}
	if !(Filter{Subject: "   "}).IsTrivial() {
		t.Error("blank subject should be trivial")
	}
	if (Filter{Unseen: true}).IsTrivial() || (Filter{Subject: "x"}).IsTrivial() {
		t.Error("non-empty filters should not be trivial")
	}
}
