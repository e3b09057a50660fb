package chat

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/storefront-labs/livechat/internal/metrics"
	"github.com/storefront-labs/livechat/internal/models"
	"github.com/storefront-labs/livechat/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) == 0 || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// sanitizeName trims and limits a name to 100 characters, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// Bot drives the onboarding state machine. The phase is a pure function
// of the conversation's stored name/email fields (models.PhaseOf), so the
// machine is recoverable after a restart without replaying history.
type Bot struct {
	store   store.ConversationStore
	coupon  string
	delay   time.Duration // cosmetic pause before synthetic replies
	enabled bool
	log     zerolog.Logger
}

// NewBot creates the onboarding bot. With enabled=false, visitor messages
// are still appended but no synthetic reply is ever produced and stored
// identity fields are never advanced.
func NewBot(st store.ConversationStore, coupon string, delay time.Duration, enabled bool, log zerolog.Logger) *Bot {
	return &Bot{store: st, coupon: coupon, delay: delay, enabled: enabled, log: log}
}

// Enabled reports whether auto-reply is administratively enabled.
func (b *Bot) Enabled() bool { return b.enabled }

// Delay returns the configured artificial reply delay.
func (b *Bot) Delay() time.Duration { return b.delay }

// senderName resolves the active agent persona the synthetic reply is
// attributed to.
func (b *Bot) senderName(ctx context.Context) string {
	agent, err := b.store.GetActiveAgent(ctx)
	if err != nil || agent == nil {
		return "Support"
	}
	return agent.Name
}

// WelcomeMessage builds the one-time welcome message for a conversation
// whose visitor identity is complete.
func (b *Bot) WelcomeMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	t, err := b.store.GetTemplates(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Message{
		ConversationID: conversationID,
		Role:           models.RoleBot,
		SenderName:     b.senderName(ctx),
		Body:           t.Welcome,
		Read:           true,
	}, nil
}

// Advance consumes one visitor message as onboarding input. It mutates
// the conversation's stored identity fields as the phase dictates and
// returns the synthetic reply to append, or nil when the phase is active
// or auto-reply is disabled. Onboarding only moves forward.
func (b *Bot) Advance(ctx context.Context, conv *models.Conversation, text string) (*models.Message, error) {
	if !b.enabled {
		return nil, nil
	}

	phase := conv.Phase()
	if phase == models.PhaseActive {
		return nil, nil
	}

	t, err := b.store.GetTemplates(ctx)
	if err != nil {
		return nil, err
	}

	reply := &models.Message{
		ConversationID: conv.ID.String(),
		Role:           models.RoleBot,
		SenderName:     b.senderName(ctx),
		Read:           true,
	}

	switch phase {
	case models.PhaseNeedName:
		name := sanitizeName(text)
		if name == "" {
			reply.Body = t.AskName
			return reply, nil
		}
		if err := b.store.UpdateVisitorIdentity(ctx, conv.ID, name, ""); err != nil {
			return nil, err
		}
		conv.VisitorName = name
		reply.Body = t.AskEmail

	case models.PhaseNeedEmail:
		email := strings.TrimSpace(strings.ToLower(text))
		if !isValidEmail(email) {
			// No phase advance, no field mutation.
			reply.Body = t.EmailRetry
			return reply, nil
		}
		if err := b.store.UpdateVisitorIdentity(ctx, conv.ID, "", email); err != nil {
			return nil, err
		}
		conv.VisitorEmail = email
		metrics.OnboardingCompleted.Inc()

		// Newsletter signup is best-effort: a failure here is logged and
		// swallowed, never surfaced to the visitor.
		if err := b.store.UpsertSubscriber(ctx, email); err != nil {
			b.log.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("newsletter upsert failed")
		} else {
			metrics.NewsletterSignups.Inc()
		}

		reply.Body = strings.ReplaceAll(t.CouponOffer, "{coupon}", b.coupon)
	}

	return reply, nil
}
