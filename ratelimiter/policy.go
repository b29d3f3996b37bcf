package ratelimiter

import (
	"fmt"
	"time"
)

// Names of the shipped policies.
const (
	PolicyAuth             = "auth"
	PolicyContactForm      = "contact-form"
	PolicyCopyrightDispute = "copyright-dispute"
	PolicyTicketLookup     = "ticket-lookup"
	PolicyComment          = "comment"
	PolicyReview           = "review"
)

// Day is the accounting window of every shipped policy.
const Day = 24 * time.Hour

// Policy is the immutable configuration bound to one limiter instance.
type Policy struct {
	// Name keeps the counters of independent actions apart in a shared store.
	Name string `yaml:"name"`
	// MaxAttempts is the number of attempts per calendar day that triggers a block.
	MaxAttempts int `yaml:"max_attempts"`
	// Window is the accounting period. Counters are aligned to calendar days;
	// Window is only used to approximate the reset instant advertised to clients.
	Window time.Duration `yaml:"window"`
	// BlockDuration is how long a block lasts once MaxAttempts is reached.
	BlockDuration time.Duration `yaml:"block_duration"`
}

// Validate checks that the policy can drive a limiter.
func (p Policy) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	case p.MaxAttempts <= 0:
		return fmt.Errorf("%w: %s: max_attempts must be positive", ErrInvalidPolicy, p.Name)
	case p.Window <= 0:
		return fmt.Errorf("%w: %s: window must be positive", ErrInvalidPolicy, p.Name)
	case p.BlockDuration <= 0:
		return fmt.Errorf("%w: %s: block_duration must be positive", ErrInvalidPolicy, p.Name)
	}
	return nil
}

// Shipped policies. Login, registration and admin login share the address-keyed auth policy.
var (
	AuthPolicy             = Policy{Name: PolicyAuth, MaxAttempts: 10, Window: Day, BlockDuration: Day}
	ContactFormPolicy      = Policy{Name: PolicyContactForm, MaxAttempts: 3, Window: Day, BlockDuration: Day}
	CopyrightDisputePolicy = Policy{Name: PolicyCopyrightDispute, MaxAttempts: 2, Window: Day, BlockDuration: Day}
	TicketLookupPolicy     = Policy{Name: PolicyTicketLookup, MaxAttempts: 5, Window: Day, BlockDuration: Day}
	CommentPolicy          = Policy{Name: PolicyComment, MaxAttempts: 10, Window: Day, BlockDuration: Day}
	ReviewPolicy           = Policy{Name: PolicyReview, MaxAttempts: 5, Window: Day, BlockDuration: Day}
)

// DefaultPolicies returns the shipped policies keyed by name.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyAuth:             AuthPolicy,
		PolicyContactForm:      ContactFormPolicy,
		PolicyCopyrightDispute: CopyrightDisputePolicy,
		PolicyTicketLookup:     TicketLookupPolicy,
		PolicyComment:          CommentPolicy,
		PolicyReview:           ReviewPolicy,
	}
}
