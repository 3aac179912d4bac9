package hive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"hivegate.org/internal/ops"
)

var (
	// ErrUnsupportedOperation indicates an operation type this codec cannot encode.
	ErrUnsupportedOperation = errors.New("hive: unsupported operation")
	// ErrInvalidOperation indicates a payload that cannot be encoded as its type.
	ErrInvalidOperation = errors.New("hive: invalid operation payload")
)

// Ledger operation ids, the index of each type in the protocol variant.
var operationIDs = map[ops.Type]uint64{
	ops.Vote:               0,
	ops.Comment:            1,
	ops.DeleteComment:      17,
	ops.CustomJSON:         18,
	ops.CommentOptions:     19,
	ops.ClaimRewardBalance: 39,
	ops.AccountUpdate2:     43,
}

const defaultMaxAcceptedPayout = "1000000.000 HBD"

type opWriter func(e *encoder, p ops.Payload, chain Chain) error

var opWriters = map[ops.Type]opWriter{
	ops.Vote:               writeVote,
	ops.Comment:            writeComment,
	ops.DeleteComment:      writeDeleteComment,
	ops.CustomJSON:         writeCustomJSON,
	ops.CommentOptions:     writeCommentOptions,
	ops.ClaimRewardBalance: writeClaimRewardBalance,
	ops.AccountUpdate2:     writeAccountUpdate2,
}

// Encodable reports whether the codec can serialize operations of type t.
func Encodable(t ops.Type) bool {
	_, ok := opWriters[t]
	return ok
}

func (e *encoder) operation(op ops.Operation, chain Chain) error {
	write, ok := opWriters[op.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedOperation, op.Type)
	}
	e.varint(operationIDs[op.Type])
	if err := write(e, op.Payload, chain); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOperation, op.Type, err)
	}
	return nil
}

// number accepts JSON numbers and numeric strings, as clients send both.
type number int64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*n = number(v)
	return nil
}

func (n *number) int16() (int16, error) {
	if n == nil {
		return 0, errors.New("missing number")
	}
	if *n < math.MinInt16 || *n > math.MaxInt16 {
		return 0, fmt.Errorf("%d out of int16 range", *n)
	}
	return int16(*n), nil
}

func (n *number) uint16() (uint16, error) {
	if n == nil {
		return 0, errors.New("missing number")
	}
	if *n < 0 || *n > math.MaxUint16 {
		return 0, fmt.Errorf("%d out of uint16 range", *n)
	}
	return uint16(*n), nil
}

func writeVote(e *encoder, p ops.Payload, _ Chain) error {
	var v struct {
		Voter    string  `json:"voter"`
		Author   string  `json:"author"`
		Permlink string  `json:"permlink"`
		Weight   *number `json:"weight"`
	}
	if err := p.Decode(&v); err != nil {
		return err
	}
	weight, err := v.Weight.int16()
	if err != nil {
		return fmt.Errorf("weight: %w", err)
	}
	e.string(v.Voter)
	e.string(v.Author)
	e.string(v.Permlink)
	e.int16(weight)
	return nil
}

func writeComment(e *encoder, p ops.Payload, _ Chain) error {
	var c struct {
		ParentAuthor   string `json:"parent_author"`
		ParentPermlink string `json:"parent_permlink"`
		Author         string `json:"author"`
		Permlink       string `json:"permlink"`
		Title          string `json:"title"`
		Body           string `json:"body"`
		JSONMetadata   string `json:"json_metadata"`
	}
	if err := p.Decode(&c); err != nil {
		return err
	}
	for _, s := range []string{c.ParentAuthor, c.ParentPermlink, c.Author, c.Permlink, c.Title, c.Body, c.JSONMetadata} {
		e.string(s)
	}
	return nil
}

func writeDeleteComment(e *encoder, p ops.Payload, _ Chain) error {
	var d struct {
		Author   string `json:"author"`
		Permlink string `json:"permlink"`
	}
	if err := p.Decode(&d); err != nil {
		return err
	}
	e.string(d.Author)
	e.string(d.Permlink)
	return nil
}

func writeCustomJSON(e *encoder, p ops.Payload, _ Chain) error {
	var c struct {
		RequiredAuths        []string `json:"required_auths"`
		RequiredPostingAuths []string `json:"required_posting_auths"`
		ID                   string   `json:"id"`
		JSON                 string   `json:"json"`
	}
	if err := p.Decode(&c); err != nil {
		return err
	}
	e.accountSet(c.RequiredAuths)
	e.accountSet(c.RequiredPostingAuths)
	e.string(c.ID)
	e.string(c.JSON)
	return nil
}

type beneficiary struct {
	Account string  `json:"account"`
	Weight  *number `json:"weight"`
}

func writeCommentOptions(e *encoder, p ops.Payload, chain Chain) error {
	var c struct {
		Author               string            `json:"author"`
		Permlink             string            `json:"permlink"`
		MaxAcceptedPayout    *string           `json:"max_accepted_payout"`
		PercentHBD           *number           `json:"percent_hbd"`
		PercentSteemDollars  *number           `json:"percent_steem_dollars"`
		AllowVotes           *bool             `json:"allow_votes"`
		AllowCurationRewards *bool             `json:"allow_curation_rewards"`
		Extensions           []json.RawMessage `json:"extensions"`
	}
	if err := p.Decode(&c); err != nil {
		return err
	}
	payout := defaultMaxAcceptedPayout
	if c.MaxAcceptedPayout != nil {
		payout = *c.MaxAcceptedPayout
	}
	maxPayout, err := ParseAsset(payout, chain)
	if err != nil {
		return err
	}
	percent := uint16(10000)
	pct := c.PercentHBD
	if pct == nil {
		pct = c.PercentSteemDollars
	}
	if pct != nil {
		if percent, err = pct.uint16(); err != nil {
			return fmt.Errorf("percent_hbd: %w", err)
		}
	}
	e.string(c.Author)
	e.string(c.Permlink)
	e.asset(maxPayout)
	e.uint16(percent)
	e.bool(c.AllowVotes == nil || *c.AllowVotes)
	e.bool(c.AllowCurationRewards == nil || *c.AllowCurationRewards)

	e.varint(uint64(len(c.Extensions)))
	for _, raw := range c.Extensions {
		if err := writeCommentExtension(e, raw); err != nil {
			return err
		}
	}
	return nil
}

// writeCommentExtension encodes [0, {beneficiaries: [...]}], the only
// comment_options extension the ledger defines.
func writeCommentExtension(e *encoder, raw json.RawMessage) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return errors.New("extension must be [type, value]")
	}
	var id number
	var name string
	if err := json.Unmarshal(pair[0], &name); err == nil {
		if name != "comment_payout_beneficiaries" {
			return fmt.Errorf("unknown extension %q", name)
		}
	} else if err := json.Unmarshal(pair[0], &id); err != nil || id != 0 {
		return fmt.Errorf("unknown extension %s", pair[0])
	}
	var body struct {
		Beneficiaries []beneficiary `json:"beneficiaries"`
	}
	if err := json.Unmarshal(pair[1], &body); err != nil {
		return err
	}
	e.varint(0)
	e.varint(uint64(len(body.Beneficiaries)))
	for _, b := range body.Beneficiaries {
		w, err := b.Weight.uint16()
		if err != nil {
			return fmt.Errorf("beneficiary %s: %w", b.Account, err)
		}
		e.string(b.Account)
		e.uint16(w)
	}
	return nil
}

func writeClaimRewardBalance(e *encoder, p ops.Payload, chain Chain) error {
	var c struct {
		Account     string `json:"account"`
		RewardHive  string `json:"reward_hive"`
		RewardSteem string `json:"reward_steem"`
		RewardHBD   string `json:"reward_hbd"`
		RewardSBD   string `json:"reward_sbd"`
		RewardVests string `json:"reward_vests"`
	}
	if err := p.Decode(&c); err != nil {
		return err
	}
	amounts := []string{
		firstNonEmpty(c.RewardHive, c.RewardSteem),
		firstNonEmpty(c.RewardHBD, c.RewardSBD),
		c.RewardVests,
	}
	e.string(c.Account)
	for _, s := range amounts {
		a, err := ParseAsset(s, chain)
		if err != nil {
			return err
		}
		e.asset(a)
	}
	return nil
}

func writeAccountUpdate2(e *encoder, p ops.Payload, _ Chain) error {
	for _, group := range []string{"owner", "active", "posting"} {
		if p.Has(group) {
			return fmt.Errorf("%s authority changes are not relayed", group)
		}
	}
	var a struct {
		Account             string            `json:"account"`
		MemoKey             string            `json:"memo_key"`
		JSONMetadata        string            `json:"json_metadata"`
		PostingJSONMetadata string            `json:"posting_json_metadata"`
		Extensions          []json.RawMessage `json:"extensions"`
	}
	if err := p.Decode(&a); err != nil {
		return err
	}
	if len(a.Extensions) > 0 {
		return errors.New("extensions are not supported")
	}
	e.string(a.Account)
	e.uint8(0) // owner
	e.uint8(0) // active
	e.uint8(0) // posting
	if a.MemoKey == "" {
		e.uint8(0)
	} else {
		key, err := ParsePublicKey(a.MemoKey)
		if err != nil {
			return fmt.Errorf("memo_key: %w", err)
		}
		e.uint8(1)
		e.raw(key.Bytes())
	}
	e.string(a.JSONMetadata)
	e.string(a.PostingJSONMetadata)
	e.varint(0)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
