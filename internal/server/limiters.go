package server

import (
	"fmt"
	"sort"

	"github.com/jassus213/go-lockout/guard"
	"github.com/jassus213/go-lockout/ratelimiter"
)

// Limiters is the set of limiters built from the configured policies. The auth policy
// tracks failed logins per address; every other policy is a per-principal quota.
type Limiters struct {
	address   map[string]*ratelimiter.AddressLimiter
	principal map[string]*ratelimiter.PrincipalLimiter
}

// requiredPolicies are bound to routes of the reference server.
var requiredPolicies = []string{
	ratelimiter.PolicyAuth,
	ratelimiter.PolicyContactForm,
	ratelimiter.PolicyCopyrightDispute,
	ratelimiter.PolicyTicketLookup,
	ratelimiter.PolicyComment,
	ratelimiter.PolicyReview,
}

// NewLimiters builds one limiter per policy over the shared store.
func NewLimiters(s ratelimiter.Store, policies map[string]ratelimiter.Policy, opts ...ratelimiter.Option) (*Limiters, error) {
	for _, name := range requiredPolicies {
		if _, ok := policies[name]; !ok {
			return nil, fmt.Errorf("missing policy %q", name)
		}
	}

	l := &Limiters{
		address:   make(map[string]*ratelimiter.AddressLimiter),
		principal: make(map[string]*ratelimiter.PrincipalLimiter),
	}
	for name, p := range policies {
		if name != p.Name {
			return nil, fmt.Errorf("policy registered as %q is named %q", name, p.Name)
		}
		if name == ratelimiter.PolicyAuth {
			al, err := ratelimiter.NewAddressLimiter(s, p, opts...)
			if err != nil {
				return nil, err
			}
			l.address[name] = al
			continue
		}
		pl, err := ratelimiter.NewPrincipalLimiter(s, p, opts...)
		if err != nil {
			return nil, err
		}
		l.principal[name] = pl
	}
	return l, nil
}

// Address returns the address limiter of a policy.
func (l *Limiters) Address(name string) *ratelimiter.AddressLimiter {
	return l.address[name]
}

// Principal returns the principal limiter of a policy.
func (l *Limiters) Principal(name string) *ratelimiter.PrincipalLimiter {
	return l.principal[name]
}

// All returns every limiter ordered by policy name.
func (l *Limiters) All() []guard.Limiter {
	all := make([]guard.Limiter, 0, len(l.address)+len(l.principal))
	for _, al := range l.address {
		all = append(all, al)
	}
	for _, pl := range l.principal {
		all = append(all, pl)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Policy().Name < all[j].Policy().Name
	})
	return all
}

// Admin returns the administrative surface over every limiter.
func (l *Limiters) Admin(logger ratelimiter.Logger) *guard.Admin {
	return guard.NewAdmin(logger, l.All()...)
}
