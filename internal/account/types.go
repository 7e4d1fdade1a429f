// Package account stores users, checks their credentials and provisions new accounts.
package account

import (
	"time"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
)

// PurposeMaster is the authentication purpose of an interactive password login.
const PurposeMaster = "master"

// ScopeMaster is the scope granted to a password login.
const ScopeMaster = "master"

// Attribute names for DynamoDB items.
const (
	AttrUserID            = "userId"
	AttrUsername          = "username"
	AttrAddress           = "address"
	AttrPasswordHash      = "passwordHash"
	AttrScope             = "scope"
	AttrQuota             = "quota"
	AttrCreatedAt         = "createdAt"
	AttrLastLoginAt       = "lastLoginAt"
	AttrLastLoginIP       = "lastLoginIp"
	AttrLastLoginProtocol = "lastLoginProtocol"
)

// Profile is a stored user.
// PK: ACCOUNT#{userId}
// SK: PROFILE
type Profile struct {
	UserID       string
	Username     string
	Address      string
	PasswordHash string
	Scope        string
	Quota        int64
	CreatedAt    time.Time
}

// PK returns the DynamoDB partition key for this profile.
func (p *Profile) PK() string {
	return dynamo.PrefixAccount + p.UserID
}

// SK returns the DynamoDB sort key for this profile.
func (p *Profile) SK() string {
	return dynamo.SKProfile
}

// AddressPK returns the partition key of the address claim item.
func AddressPK(address string) string {
	return dynamo.PrefixAddress + NormalizeAddress(address)
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Username string
	Password string
	Quota    int64
}

// AuthMeta describes the client of an authentication attempt.
type AuthMeta struct {
	Protocol string
	IP       string
}

// AuthData is the result of a successful authentication.
type AuthData struct {
	UserID   string
	Username string
	Scope    string
}
