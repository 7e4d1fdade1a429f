// Package app assembles the webmail server from its configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/dbclient"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/account"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/auth"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/blob"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/config"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/events"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/listing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/msgid"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/presenter"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/session"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/stats"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/web"
)

// App is an assembled server and the resources it holds.
type App struct {
	Server *web.Server
	redis  *redis.Client
}

// Close releases the connections held by the app.
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// LoadAWSConfig loads the default AWS configuration with OTel middleware.
// The Lambda entrypoint gets the same from awsinit.Init.
func LoadAWSConfig(ctx context.Context) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	return awsCfg, nil
}

// New wires the stores, the presenter, the paginator and the session gate
// into a web server.
func New(ctx context.Context, awsCfg aws.Config, cfg *config.Config, logger *slog.Logger) (*App, error) {
	dynamoClient := dbclient.NewClient(awsCfg)
	warm(ctx, dynamoClient, cfg.TableName)

	codec, err := msgid.New(cfg.MsgIDSecret)
	if err != nil {
		return nil, fmt.Errorf("create id codec: %w", err)
	}

	messages := email.NewRepository(dynamoClient, cfg.TableName)
	mailboxes := mailbox.NewDynamoDBRepository(dynamoClient, cfg.TableName)
	users := account.NewStore(dynamoClient, cfg.TableName, cfg.Domain, mailboxes, logger)

	baseTransport := otelhttp.NewTransport(http.DefaultTransport)
	transport := blob.NewSigV4Transport(baseTransport, awsCfg.Credentials, awsCfg.Region)
	blobs := blob.NewHTTPBlobClient(cfg.BlobAPIURL, &http.Client{Transport: transport})

	a := &App{}
	var (
		store   session.Store
		counter stats.Counter
	)
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = session.NewRedisStore(a.redis)
		counter = stats.NewRedisCounter(a.redis)
	} else {
		store = session.NewDynamoDBStore(dynamoClient, cfg.TableName)
		counter = stats.NewDynamoDBCounter(dynamoClient, cfg.TableName)
	}

	var publisher events.Publisher = events.Discard{}
	if cfg.EventsQueueURL != "" {
		publisher = events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.EventsQueueURL)
	}

	// Listing rows only carry shareable links when public links are on.
	listingCodec := codec
	if !cfg.PublicMessageLinks {
		listingCodec = nil
	}

	sessions := session.NewManager(store, cfg.SessionSecret, cfg.SessionTTL, cfg.SecureCookies, logger)
	srv, err := web.New(cfg, web.Deps{
		Codec:     codec,
		Presenter: presenter.New(messages, mailboxes, blobs, logger),
		Listing:   listing.New(mailboxes, messages, listingCodec, logger),
		Gate:      auth.NewGate(users, sessions, counter, cfg.Domain, logger),
		Accounts:  users,
		Counter:   counter,
		Events:    publisher,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Server = srv

	logger.Info("Webmail configured",
		slog.String("domain", cfg.Domain),
		slog.String("env", cfg.Env),
		slog.Bool("redis", a.redis != nil),
		slog.Bool("events", cfg.EventsQueueURL != ""),
	)
	return a, nil
}

// warm opens the DynamoDB connection before the first request.
func warm(ctx context.Context, client dbclient.DynamoDBClient, tableName string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _ = client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: "WARMUP"},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: "WARMUP"},
		},
	})
}
