package ingestion

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/ledger"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandSubjectPrefix is the subject root for inbound commands:
// cdp.commands.{command}[.{anything}]
const CommandSubjectPrefix = "cdp.commands"

// ErrMalformed marks payloads that can never succeed, however often they are redelivered.
var ErrMalformed = fmt.Errorf("%w: malformed command", ledger.ErrValidation)

// subjectTokens maps wire subject tokens to command types.
var subjectTokens = map[string]command.CommandType{
	"instantiate":              command.CommandTypeInstantiate,
	"update_config":            command.CommandTypeUpdateConfig,
	"propose_owner":            command.CommandTypeProposeOwner,
	"accept_ownership":         command.CommandTypeAcceptOwnership,
	"whitelist_collateral":     command.CommandTypeWhitelistCollateral,
	"set_collateral_safe_rate": command.CommandTypeSetCollateralSafeRate,
	"mint":                     command.CommandTypeMint,
	"repay":                    command.CommandTypeRepay,
	"deposit_collateral":       command.CommandTypeDepositCollateral,
	"withdraw_collateral":      command.CommandTypeWithdrawCollateral,
	"redeem":                   command.CommandTypeRedeem,
	"liquidate":                command.CommandTypeLiquidate,
	"set_redemption_provider":  command.CommandTypeSetRedemptionProvider,
}

// SubjectToken returns the wire token for ct, e.g. "withdraw_collateral".
func SubjectToken(ct command.CommandType) string {
	for token, t := range subjectTokens {
		if t == ct {
			return token
		}
	}
	return ""
}

// CommandSubject returns the subject a command of type ct is published on.
func CommandSubject(ct command.CommandType) string {
	return CommandSubjectPrefix + "." + SubjectToken(ct)
}

// CommandTypeFromToken resolves a wire token such as "mint".
func CommandTypeFromToken(token string) (command.CommandType, error) {
	ct, ok := subjectTokens[token]
	if !ok {
		return command.CommandTypeUnknown, fmt.Errorf("%w: unknown command %q", ErrMalformed, token)
	}
	return ct, nil
}

// CommandTypeFromSubject resolves the command type from a full subject.
func CommandTypeFromSubject(subject string) (command.CommandType, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok {
		return command.CommandTypeUnknown, fmt.Errorf("%w: subject %q outside %s", ErrMalformed, subject, CommandSubjectPrefix)
	}
	token, _, _ := strings.Cut(rest, ".")
	return CommandTypeFromToken(token)
}

// ParseCommand decodes a JSON payload into a typed command and validates it.
// Unknown fields are rejected.
func ParseCommand(ct command.CommandType, data []byte) (command.Command, error) {
	cmd, err := DecodeCommand(ct, data)
	if err != nil {
		return nil, err
	}
	if err := Validate(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// DecodeCommand decodes without validating, for transports that fill in
// header fields afterwards.
func DecodeCommand(ct command.CommandType, data []byte) (command.Command, error) {
	cmd := command.New(ct)
	if cmd == nil {
		return nil, fmt.Errorf("%w: unknown command type %d", ErrMalformed, ct)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformed, ct, err)
	}
	return cmd, nil
}

// Validate checks the fields every handler relies on.
func Validate(cmd command.Command) error {
	if err := validate(cmd); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, cmd.CommandType(), err)
	}
	return nil
}

var (
	errMissingKey    = errors.New("idempotency_key is required")
	errMissingSender = errors.New("sender is required")
	errMissingMinter = errors.New("minter is required")
	errMissingAsset  = errors.New("asset is required")
)

func validate(cmd command.Command) error {
	if cmd.IdempotencyKey() == "" {
		return errMissingKey
	}
	if cmd.Caller().IsZero() {
		return errMissingSender
	}

	switch c := cmd.(type) {
	case *command.ProposeOwner:
		if c.Candidate.IsZero() {
			return errors.New("candidate is required")
		}
	case *command.WhitelistCollateral:
		if c.Listing.Asset == "" {
			return errMissingAsset
		}
	case *command.Mint:
		if c.Minter.IsZero() {
			return errMissingMinter
		}
		if c.Deposit != nil && c.Deposit.Asset == "" {
			return errors.New("deposit asset is required")
		}
	case *command.Repay:
		if c.Minter.IsZero() {
			return errMissingMinter
		}
	case *command.DepositCollateral:
		if c.Minter.IsZero() {
			return errMissingMinter
		}
		if c.Deposit.Asset == "" {
			return errMissingAsset
		}
	case *command.WithdrawCollateral:
		if c.Asset == "" {
			return errMissingAsset
		}
	case *command.Redeem:
		if c.Minter.IsZero() {
			return errMissingMinter
		}
		if c.Redeemer.IsZero() {
			return errors.New("redeemer is required")
		}
	case *command.Liquidate:
		if c.Minter.IsZero() {
			return errMissingMinter
		}
	}
	return nil
}
