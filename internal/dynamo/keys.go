// Package dynamo provides shared DynamoDB constants and utilities.
package dynamo

import "github.com/jarrod-lowe/jmap-service-libs/dbclient"

const (
	// Primary key attributes.
	AttrPK = dbclient.AttrPK
	AttrSK = dbclient.AttrSK

	// TTL attribute used by items that expire on their own.
	AttrTTL = "ttl"

	// Partition key prefixes.
	PrefixAccount    = dbclient.PrefixAccount
	PrefixAddress    = "ADDRESS#"
	PrefixMailbox    = "MAILBOX#"
	PrefixAttachment = "ATTACHMENT#"
	PrefixSession    = "SESSION#"
	PrefixCounter    = "COUNTER#"

	// Fixed sort keys.
	SKProfile = "PROFILE"
	SKAddress = "ADDRESS"
	SKMeta    = "META"
	SKSession = "SESSION"
	SKCounter = "COUNTER"
)

// Client is the DynamoDB API used by the repositories.
type Client = dbclient.DynamoDBClient
