package ops

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// rule extracts the accounts an operation acts for. The set of variants is
// closed: field, nested, accountLists and postingList. Elevated accounts
// are those named with more than posting authority.
type rule interface {
	accounts(p Payload) (accts, elevated []string, err error)
	describe() string
}

// field names a top-level string member holding the acting account.
type field string

func (f field) accounts(p Payload) ([]string, []string, error) {
	name, err := p.StringField(string(f))
	if err != nil {
		return nil, nil, err
	}
	return []string{name}, nil, nil
}

func (f field) describe() string { return string(f) }

// nested walks objects and arrays to a string member. Numeric segments
// index into arrays, which static variants like pow2's work need.
type nested []string

func (n nested) accounts(p Payload) ([]string, []string, error) {
	acct, err := n.lookup(p)
	if err != nil {
		return nil, nil, err
	}
	return []string{acct}, nil, nil
}

func (n nested) lookup(p Payload) (string, error) {
	path := strings.Join(n, ".")
	raw, ok := p[n[0]]
	if !ok || isNull(raw) {
		return "", fmt.Errorf("%w: %s", ErrMissingField, path)
	}
	var cur any
	if err := json.Unmarshal(raw, &cur); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFieldType, path)
	}
	for _, seg := range n[1:] {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrMissingField, path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return "", fmt.Errorf("%w: %s", ErrMissingField, path)
			}
			cur = node[i]
		default:
			return "", fmt.Errorf("%w: %s", ErrFieldType, path)
		}
	}
	switch v := cur.(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("%w: %s", ErrMissingField, path)
	default:
		return "", fmt.Errorf("%w: %s must be a string", ErrFieldType, path)
	}
}

func (n nested) describe() string { return strings.Join(n, ".") }

// accountLists unions every account named in the given authorization lists.
// Absent lists contribute nothing.
type accountLists []string

func (l accountLists) accounts(p Payload) ([]string, []string, error) {
	out, err := unionLists(p, l)
	return out, nil, err
}

func (l accountLists) describe() string { return strings.Join(l, "|") }

// postingList acts for the accounts in the posting list. Accounts in the
// elevated lists also act, but as elevated.
type postingList struct {
	posting  string
	elevated []string
}

func (l postingList) accounts(p Payload) ([]string, []string, error) {
	elevated, err := unionLists(p, l.elevated)
	if err != nil {
		return nil, nil, err
	}
	out, err := unionLists(p, append([]string{l.posting}, l.elevated...))
	if err != nil {
		return nil, nil, err
	}
	return out, elevated, nil
}

func (l postingList) describe() string { return l.posting }

func unionLists(p Payload, names []string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	for _, name := range names {
		list, err := p.StringsField(name)
		if err != nil {
			return nil, err
		}
		for _, acct := range list {
			if _, dup := seen[acct]; dup {
				continue
			}
			seen[acct] = struct{}{}
			out = append(out, acct)
		}
	}
	return out, nil
}

var authorRules = map[Type]rule{
	Vote:                        field("voter"),
	Comment:                     field("author"),
	Transfer:                    field("from"),
	TransferToVesting:           field("from"),
	WithdrawVesting:             field("account"),
	LimitOrderCreate:            field("owner"),
	LimitOrderCancel:            field("owner"),
	FeedPublish:                 field("publisher"),
	Convert:                     field("owner"),
	AccountCreate:               field("creator"),
	AccountUpdate:               field("account"),
	WitnessUpdate:               field("owner"),
	AccountWitnessVote:          field("account"),
	AccountWitnessProxy:         field("account"),
	Pow:                         field("worker_account"),
	Custom:                      accountLists{"required_auths"},
	ReportOverProduction:        field("reporter"),
	DeleteComment:               field("author"),
	CustomJSON:                  postingList{posting: "required_posting_auths", elevated: []string{"required_auths"}},
	CommentOptions:              field("author"),
	SetWithdrawVestingRoute:     field("from_account"),
	LimitOrderCreate2:           field("owner"),
	ClaimAccount:                field("creator"),
	CreateClaimedAccount:        field("creator"),
	RequestAccountRecovery:      field("recovery_account"),
	RecoverAccount:              field("account_to_recover"),
	ChangeRecoveryAccount:       field("account_to_recover"),
	EscrowTransfer:              field("from"),
	EscrowDispute:               field("who"),
	EscrowRelease:               field("who"),
	Pow2:                        nested{"work", "1", "input", "worker_account"},
	EscrowApprove:               field("who"),
	TransferToSavings:           field("from"),
	TransferFromSavings:         field("from"),
	CancelTransferFromSavings:   field("from"),
	CustomBinary:                accountLists{"required_owner_auths", "required_active_auths", "required_posting_auths"},
	DeclineVotingRights:         field("account"),
	ResetAccount:                field("reset_account"),
	SetResetAccount:             field("account"),
	ClaimRewardBalance:          field("account"),
	DelegateVestingShares:       field("delegator"),
	AccountCreateWithDelegation: field("creator"),
	WitnessSetProperties:        field("owner"),
	AccountUpdate2:              field("account"),
	CreateProposal:              field("creator"),
	UpdateProposalVotes:         field("voter"),
	RemoveProposal:              field("proposal_owner"),
	UpdateProposal:              field("creator"),
	CollateralizedConvert:       field("owner"),
	RecurrentTransfer:           field("from"),
}

// Authors is the result of resolving an operation's acting accounts.
type Authors struct {
	Type     Type
	Accounts []string
	// Elevated lists accounts named in an active-authority list of a
	// posting-list operation.
	Elevated []string
	known    bool
}

// Known reports whether the operation type has an author rule.
func (a Authors) Known() bool { return a.known }

// AttributableTo reports whether the operation acts only for user. Unknown
// types are never attributable, nor is anything with elevated accounts. A
// list-based rule with every list empty acts for nobody and is
// attributable; the ledger decides whether such an operation is valid.
func (a Authors) AttributableTo(user string) bool {
	if !a.known || user == "" || len(a.Elevated) > 0 {
		return false
	}
	for _, acct := range a.Accounts {
		if acct != user {
			return false
		}
	}
	return true
}

// Resolve maps an operation to the accounts it acts for. Missing or
// mistyped members required by the type's rule yield ErrMissingField or
// ErrFieldType; unknown types resolve without error to no author.
func Resolve(op Operation) (Authors, error) {
	r, ok := authorRules[op.Type]
	if !ok {
		return Authors{Type: op.Type}, nil
	}
	accts, elevated, err := r.accounts(op.Payload)
	if err != nil {
		return Authors{Type: op.Type}, err
	}
	return Authors{Type: op.Type, Accounts: accts, Elevated: elevated, known: true}, nil
}

// AuthorField describes where the acting account of t is read from, for
// error messages. Empty for unknown types.
func AuthorField(t Type) string {
	r, ok := authorRules[t]
	if !ok {
		return ""
	}
	return r.describe()
}
