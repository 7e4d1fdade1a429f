package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/dbclient"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/msgid"
	"golang.org/x/crypto/bcrypt"
)

// Error types for store operations.
var (
	ErrAuthFailed = errors.New("authentication failed")
	ErrUserExists = errors.New("user already exists")
)

const (
	usernameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	usernameLength   = 12
	passwordLength   = 16
)

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, input *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// MailboxBuilder builds the transaction items that create a mailbox.
type MailboxBuilder interface {
	BuildCreateItems(mailbox *mailbox.MailboxItem) []types.TransactWriteItem
}

// Store is the DynamoDB backed user store.
type Store struct {
	client    DynamoDBClient
	tableName string
	domain    string
	mailboxes MailboxBuilder
	logger    *slog.Logger
	cost      int
	now       func() time.Time
	newUserID func() string
	newBoxID  func() string
}

// NewStore creates a new Store. Addresses are username@domain.
func NewStore(client DynamoDBClient, tableName, domain string, mailboxes MailboxBuilder, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		domain:    strings.ToLower(domain),
		mailboxes: mailboxes,
		logger:    logger,
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
		newUserID: uuid.NewString,
		newBoxID:  msgid.NewID,
	}
}

// Domain returns the domain of created addresses.
func (s *Store) Domain() string {
	return s.domain
}

// NormalizeAddress lowercases and trims an address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Authenticate checks a password for the user owning address. Wrong
// credentials and unknown users both return ErrAuthFailed. The login is
// recorded on the profile on a best-effort basis.
func (s *Store) Authenticate(ctx context.Context, address, password, purpose string, meta AuthMeta) (*AuthData, error) {
	if purpose != PurposeMaster {
		return nil, ErrAuthFailed
	}

	userID, err := s.lookupAddress(ctx, address)
	if err != nil {
		return nil, err
	}

	profile, err := s.GetProfile(ctx, userID)
	if errors.Is(err, ErrAuthFailed) {
		return nil, ErrAuthFailed
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return nil, ErrAuthFailed
	}

	s.recordLogin(ctx, profile, meta)

	scope := profile.Scope
	if scope == "" {
		scope = ScopeMaster
	}
	return &AuthData{
		UserID:   profile.UserID,
		Username: profile.Username,
		Scope:    scope,
	}, nil
}

func (s *Store) lookupAddress(ctx context.Context, address string) (string, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: AddressPK(address)},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.SKAddress},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve address: %w", err)
	}
	if output.Item == nil {
		return "", ErrAuthFailed
	}
	v, ok := output.Item[AttrUserID].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return "", ErrAuthFailed
	}
	return v.Value, nil
}

// GetProfile reads a stored user. A missing profile returns ErrAuthFailed.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	p := &Profile{UserID: userID}
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: p.PK()},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: p.SK()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if output.Item == nil {
		return nil, ErrAuthFailed
	}
	return unmarshalProfile(output.Item), nil
}

// recordLogin stamps the last login on the profile. A failed write does not
// fail the login.
func (s *Store) recordLogin(ctx context.Context, profile *Profile, meta AuthMeta) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: profile.PK()},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: profile.SK()},
		},
		UpdateExpression: aws.String("SET #at = :at, #ip = :ip, #proto = :proto"),
		ExpressionAttributeNames: map[string]string{
			"#at":    AttrLastLoginAt,
			"#ip":    AttrLastLoginIP,
			"#proto": AttrLastLoginProtocol,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":    &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
			":ip":    &types.AttributeValueMemberS{Value: meta.IP},
			":proto": &types.AttributeValueMemberS{Value: meta.Protocol},
		},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to record login",
			slog.String("user_id", profile.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// CreateUser stores a new user, claims its address and provisions the
// default mailboxes in one transaction. A taken username returns ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*Profile, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if username == "" || in.Password == "" {
		return nil, errors.New("username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	profile := &Profile{
		UserID:       s.newUserID(),
		Username:     username,
		Address:      username + "@" + s.domain,
		PasswordHash: string(hash),
		Scope:        ScopeMaster,
		Quota:        in.Quota,
		CreatedAt:    now,
	}

	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                marshalProfile(profile),
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		},
		{
			Put: &types.Put{
				TableName: aws.String(s.tableName),
				Item: map[string]types.AttributeValue{
					dynamo.AttrPK: &types.AttributeValueMemberS{Value: AddressPK(profile.Address)},
					dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.SKAddress},
					AttrUserID:    &types.AttributeValueMemberS{Value: profile.UserID},
				},
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		},
	}

	for _, def := range mailbox.DefaultMailboxes {
		items = append(items, s.mailboxes.BuildCreateItems(&mailbox.MailboxItem{
			MailboxID: s.newBoxID(),
			UserID:    profile.UserID,
			Name:      def.Name,
			Role:      def.Role,
			UIDNext:   1,
			CreatedAt: now,
		})...)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if dbclient.HasConditionalCheckFailure(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return profile, nil
}

// GenerateUsername returns a random lowercase alphanumeric username.
func GenerateUsername() (string, error) {
	return randomString(usernameAlphabet, usernameLength)
}

// GeneratePassword returns a random password without ambiguous characters.
func GeneratePassword() (string, error) {
	return randomString(passwordAlphabet, passwordLength)
}

func randomString(alphabet string, n int) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

func marshalProfile(p *Profile) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK:    &types.AttributeValueMemberS{Value: p.PK()},
		dynamo.AttrSK:    &types.AttributeValueMemberS{Value: p.SK()},
		AttrUserID:       &types.AttributeValueMemberS{Value: p.UserID},
		AttrUsername:     &types.AttributeValueMemberS{Value: p.Username},
		AttrAddress:      &types.AttributeValueMemberS{Value: p.Address},
		AttrPasswordHash: &types.AttributeValueMemberS{Value: p.PasswordHash},
		AttrScope:        &types.AttributeValueMemberS{Value: p.Scope},
		AttrQuota:        &types.AttributeValueMemberN{Value: strconv.FormatInt(p.Quota, 10)},
		AttrCreatedAt:    &types.AttributeValueMemberS{Value: p.CreatedAt.UTC().Format(time.RFC3339)},
	}
}

func unmarshalProfile(item map[string]types.AttributeValue) *Profile {
	p := &Profile{}
	if v, ok := item[AttrUserID].(*types.AttributeValueMemberS); ok {
		p.UserID = v.Value
	}
	if v, ok := item[AttrUsername].(*types.AttributeValueMemberS); ok {
		p.Username = v.Value
	}
	if v, ok := item[AttrAddress].(*types.AttributeValueMemberS); ok {
		p.Address = v.Value
	}
	if v, ok := item[AttrPasswordHash].(*types.AttributeValueMemberS); ok {
		p.PasswordHash = v.Value
	}
	if v, ok := item[AttrScope].(*types.AttributeValueMemberS); ok {
		p.Scope = v.Value
	}
	if v, ok := item[AttrQuota].(*types.AttributeValueMemberN); ok {
		p.Quota, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := item[AttrCreatedAt].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			p.CreatedAt = t
		}
	}
	return p
}
