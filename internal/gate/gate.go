// Package gate decides whether a batch of operations may be broadcast on
// behalf of an authenticated identity. Decisions are pure: the same
// identity and batch always yield the same result and nothing is mutated.
package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hivegate.org/internal/auth"
	"hivegate.org/internal/ops"
)

// Category is the machine-readable rejection class returned to callers.
type Category string

const (
	InvalidScope       Category = "invalid_scope"
	MalformedPayload   Category = "invalid_request"
	UnauthorizedClient Category = "unauthorized_client"
)

var (
	// ErrInvalidScope matches rejections for operation types outside scope.
	ErrInvalidScope = errors.New("gate: operation outside granted scope")
	// ErrMalformedPayload matches rejections for unreadable operations.
	ErrMalformedPayload = errors.New("gate: malformed operation payload")
	// ErrUnauthorizedClient matches author mismatches and privilege escalation.
	ErrUnauthorizedClient = errors.New("gate: operation not attributable to user")
)

// Groups of authority an app must never change through the gateway.
var keyAuthorities = []string{"owner", "active", "posting"}

// Operations whose payload can replace key authorities.
var keyAuthorityTypes = map[ops.Type]bool{
	ops.AccountUpdate:  true,
	ops.AccountUpdate2: true,
}

// Authorization lists filled in as empty when a custom_json omits them.
var customJSONAuths = []string{"required_auths", "required_posting_auths"}

// Violation describes one offending operation.
type Violation struct {
	Index    int
	Type     ops.Type
	Category Category
	Reason   string
}

// Rejection is returned when any operation in the batch fails. Category is
// the single class reported to the caller, chosen in the order scope,
// malformed payload, unauthorized client. Violations lists every problem found.
type Rejection struct {
	Category   Category
	User       string
	Violations []Violation
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("gate: %s: %s", r.Category, r.Description())
}

// Is maps the rejection onto the package sentinels.
func (r *Rejection) Is(target error) bool {
	switch target {
	case ErrInvalidScope:
		return r.Category == InvalidScope
	case ErrMalformedPayload:
		return r.Category == MalformedPayload
	case ErrUnauthorizedClient:
		return r.Category == UnauthorizedClient
	}
	return false
}

// Types lists the distinct operation types in the reported category, in
// batch order.
func (r *Rejection) Types() []ops.Type {
	var out []ops.Type
	seen := map[ops.Type]bool{}
	for _, v := range r.Violations {
		if v.Category != r.Category || seen[v.Type] {
			continue
		}
		seen[v.Type] = true
		out = append(out, v.Type)
	}
	return out
}

// Description is the human-readable message returned to callers.
func (r *Rejection) Description() string {
	switch r.Category {
	case InvalidScope:
		names := make([]string, 0, len(r.Violations))
		for _, t := range r.Types() {
			names = append(names, string(t))
		}
		return "The access_token scope does not allow the following operation(s): " + strings.Join(names, ", ")
	case UnauthorizedClient:
		return "This access_token allow you to broadcast transaction only for the account @" + r.User
	default:
		for _, v := range r.Violations {
			if v.Category == r.Category {
				return v.Reason
			}
		}
		return "malformed operations"
	}
}

// Approved is a batch the gate accepted. Only Authorize produces a valid
// one; the zero value is refused by the relay.
type Approved struct {
	batch ops.Batch
	user  string
	app   string
	ok    bool
}

// Valid reports whether a came from a successful Authorize call.
func (a Approved) Valid() bool { return a.ok && len(a.batch) > 0 }

// Batch returns a copy of the normalized operations in original order.
func (a Approved) Batch() ops.Batch { return a.batch.Clone() }

// User is the account the batch was approved for.
func (a Approved) User() string { return a.user }

// App is the application that requested the broadcast.
func (a Approved) App() string { return a.app }

// Gate holds the static configuration decisions are made against.
type Gate struct {
	defaultScope ops.Scope
}

// New creates a gate. defaultScope applies to identities whose token
// carries no scope; it is restricted to the scope registry.
func New(defaultScope ops.Scope) *Gate {
	return &Gate{defaultScope: defaultScope.Intersect(ops.Registry())}
}

// DefaultScope returns the configured fallback scope.
func (g *Gate) DefaultScope() ops.Scope {
	return append(ops.Scope(nil), g.defaultScope...)
}

// EffectiveScope is the identity's scope, or the default when empty.
func (g *Gate) EffectiveScope(id auth.Identity) ops.Scope {
	if len(id.Scope) > 0 {
		return id.Scope
	}
	return g.DefaultScope()
}

// Authorize checks every operation against scope, authorship and the key
// authority guard. Either the whole batch is approved, normalized and
// redacted, or a *Rejection is returned.
func (g *Gate) Authorize(id auth.Identity, batch ops.Batch) (Approved, error) {
	rej := &Rejection{User: id.User}
	if len(batch) == 0 {
		rej.Violations = append(rej.Violations, Violation{Index: -1, Category: MalformedPayload, Reason: "operations must not be empty"})
		rej.Category = MalformedPayload
		return Approved{}, rej
	}
	scope := g.EffectiveScope(id)

	for i, op := range batch {
		if !scope.Contains(op.Type) {
			rej.add(i, op.Type, InvalidScope, "operation type not granted")
		}
		authors, err := ops.Resolve(op)
		switch {
		case err != nil:
			rej.add(i, op.Type, MalformedPayload, fmt.Sprintf("operation %d (%s): %v", i, op.Type, err))
		case len(authors.Elevated) > 0:
			rej.add(i, op.Type, UnauthorizedClient, fmt.Sprintf("accounts %v require active authority", authors.Elevated))
		case !authors.AttributableTo(id.User):
			rej.add(i, op.Type, UnauthorizedClient, fmt.Sprintf("acting account %v is not @%s", authors.Accounts, id.User))
		}
		if keyAuthorityTypes[op.Type] {
			for _, group := range keyAuthorities {
				if op.Payload.Has(group) {
					rej.add(i, op.Type, UnauthorizedClient, group+" authority changes are not permitted")
				}
			}
		}
	}

	if cat, failed := rej.first(); failed {
		rej.Category = cat
		return Approved{}, rej
	}

	out := batch.Clone()
	for i := range out {
		normalize(&out[i])
	}
	return Approved{batch: out, user: id.User, app: id.App, ok: true}, nil
}

func (r *Rejection) add(i int, t ops.Type, c Category, reason string) {
	r.Violations = append(r.Violations, Violation{Index: i, Type: t, Category: c, Reason: reason})
}

func (r *Rejection) first() (Category, bool) {
	for _, c := range []Category{InvalidScope, MalformedPayload, UnauthorizedClient} {
		for _, v := range r.Violations {
			if v.Category == c {
				return c, true
			}
		}
	}
	return "", false
}

var emptyList = json.RawMessage("[]")

// normalize fills omitted custom_json authorization lists and strips
// reserved bookkeeping members. op must already be a private copy.
func normalize(op *ops.Operation) {
	if op.Payload == nil {
		op.Payload = ops.Payload{}
	}
	if op.Type == ops.CustomJSON {
		for _, name := range customJSONAuths {
			if !op.Payload.Has(name) {
				op.Payload[name] = append(json.RawMessage(nil), emptyList...)
			}
		}
	}
	op.Payload.Redact()
}
