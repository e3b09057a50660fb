package models

// BotTemplates holds the editable onboarding message texts. The coupon
// offer may contain a {coupon} placeholder that is interpolated with the
// configured coupon code when the message is synthesized.
type BotTemplates struct {
	Welcome     string `json:"welcome"`
	AskName     string `json:"ask_name"`
	AskEmail    string `json:"ask_email"`
	EmailRetry  string `json:"email_retry"`
	CouponOffer string `json:"coupon_offer"`
}

// DefaultTemplates are seeded into the store on first run.
func DefaultTemplates() BotTemplates {
	return BotTemplates{
		Welcome:     "Hi! Thanks for reaching out. How can we help you today?",
		AskName:     "Hello! Before we start, what's your name?",
		AskEmail:    "Nice to meet you! What's your email address, in case we get disconnected?",
		EmailRetry:  "That doesn't look like a valid email address. Could you try again?",
		CouponOffer: "Thanks! Here's a coupon for your next order: {coupon}. An agent will be with you shortly.",
	}
}
