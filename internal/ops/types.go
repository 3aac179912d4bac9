package ops

// Type names a ledger operation as it appears on the wire.
type Type string

// Every operation kind the gateway knows how to attribute, in ledger order.
const (
	Vote                        Type = "vote"
	Comment                     Type = "comment"
	Transfer                    Type = "transfer"
	TransferToVesting           Type = "transfer_to_vesting"
	WithdrawVesting             Type = "withdraw_vesting"
	LimitOrderCreate            Type = "limit_order_create"
	LimitOrderCancel            Type = "limit_order_cancel"
	FeedPublish                 Type = "feed_publish"
	Convert                     Type = "convert"
	AccountCreate               Type = "account_create"
	AccountUpdate               Type = "account_update"
	WitnessUpdate               Type = "witness_update"
	AccountWitnessVote          Type = "account_witness_vote"
	AccountWitnessProxy         Type = "account_witness_proxy"
	Pow                         Type = "pow"
	Custom                      Type = "custom"
	ReportOverProduction        Type = "report_over_production"
	DeleteComment               Type = "delete_comment"
	CustomJSON                  Type = "custom_json"
	CommentOptions              Type = "comment_options"
	SetWithdrawVestingRoute     Type = "set_withdraw_vesting_route"
	LimitOrderCreate2           Type = "limit_order_create2"
	ClaimAccount                Type = "claim_account"
	CreateClaimedAccount        Type = "create_claimed_account"
	RequestAccountRecovery      Type = "request_account_recovery"
	RecoverAccount              Type = "recover_account"
	ChangeRecoveryAccount       Type = "change_recovery_account"
	EscrowTransfer              Type = "escrow_transfer"
	EscrowDispute               Type = "escrow_dispute"
	EscrowRelease               Type = "escrow_release"
	Pow2                        Type = "pow2"
	EscrowApprove               Type = "escrow_approve"
	TransferToSavings           Type = "transfer_to_savings"
	TransferFromSavings         Type = "transfer_from_savings"
	CancelTransferFromSavings   Type = "cancel_transfer_from_savings"
	CustomBinary                Type = "custom_binary"
	DeclineVotingRights         Type = "decline_voting_rights"
	ResetAccount                Type = "reset_account"
	SetResetAccount             Type = "set_reset_account"
	ClaimRewardBalance          Type = "claim_reward_balance"
	DelegateVestingShares       Type = "delegate_vesting_shares"
	AccountCreateWithDelegation Type = "account_create_with_delegation"
	WitnessSetProperties        Type = "witness_set_properties"
	AccountUpdate2              Type = "account_update2"
	CreateProposal              Type = "create_proposal"
	UpdateProposalVotes         Type = "update_proposal_votes"
	RemoveProposal              Type = "remove_proposal"
	UpdateProposal              Type = "update_proposal"
	CollateralizedConvert       Type = "collateralized_convert"
	RecurrentTransfer           Type = "recurrent_transfer"
)

// Known reports whether t is an operation the author resolver has a rule for.
func Known(t Type) bool {
	_, ok := authorRules[t]
	return ok
}

func (t Type) String() string { return string(t) }
