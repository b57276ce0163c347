// Package turn models one conversational turn: the immutable bundle of
// identity claims, tenant scope, and raw user text that every component
// of the core receives unchanged. A Context is built once at turn start
// and passed by value; no component may escalate or substitute claims.
package turn

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mypetparlor/concierge/pkg/models"
)

var (
	ErrEmptyText  = errors.New("turn text is empty")
	ErrNoIdentity = errors.New("turn has no identity assertion")
	ErrNoTenant   = errors.New("turn has no tenant scope")
)

// Context is the per-turn authority and input bundle.
type Context struct {
	TurnID    string          `json:"turn_id"`
	SessionID string          `json:"session_id"`
	Identity  models.Identity `json:"identity"`
	Text      string          `json:"text"`
	StartedAt time.Time       `json:"started_at"`
}

// New validates the inputs and mints a turn id. The identity assertion
// arrives already verified; only structural completeness is checked.
func New(sessionID string, identity models.Identity, text string) (Context, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Context{}, ErrEmptyText
	}
	if identity.Subject == "" {
		return Context{}, ErrNoIdentity
	}
	if identity.TenantID == "" {
		return Context{}, ErrNoTenant
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return Context{
		TurnID:    uuid.New().String(),
		SessionID: sessionID,
		Identity:  identity,
		Text:      text,
		StartedAt: time.Now().UTC(),
	}, nil
}
