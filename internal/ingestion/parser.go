package ingestion

import (
	"SaleLedger/internal/event"
	fpmath "SaleLedger/internal/math"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const subjectPrefix = "sale.commands."

// KindFromSubject maps "sale.commands.purchase" to KindPurchase.
func KindFromSubject(subject string) (CommandKind, error) {
	kind := CommandKind(strings.TrimPrefix(subject, subjectPrefix))
	if !strings.HasPrefix(subject, subjectPrefix) || !kind.Valid() {
		return "", fmt.Errorf("%w: subject %q", ErrInvalidCommand, subject)
	}
	return kind, nil
}

// ParseRawEvent converts a JetStream message into a validated Command.
// The caller comes from the x-sale-identity header when present; a body
// field naming a different identity is rejected.
func ParseRawEvent(raw RawEvent) (Command, error) {
	kind, err := KindFromSubject(raw.Subject)
	if err != nil {
		return Command{}, err
	}
	return ParseCommand(kind, raw.Data, raw.Identity)
}

// ParseCommand decodes the JSON body of a command of the given kind.
func ParseCommand(kind CommandKind, data []byte, headerIdentity string) (Command, error) {
	var (
		cmd Command
		err error
	)
	switch kind {
	case KindPurchase:
		cmd, err = parsePurchase(data)
	case KindIssue:
		cmd, err = parseIssue(data)
	case KindClaim:
		cmd, err = parseClaim(data)
	case KindDeposit:
		cmd, err = parseDeposit(data)
	case KindSweepUnsold, KindSweepRaised:
		cmd, err = parseSweep(data)
	default:
		return Command{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, kind)
	}
	if err != nil {
		return Command{}, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, kind, err)
	}
	cmd.Kind = kind

	if headerIdentity != "" {
		id, err := event.NewIdentity(headerIdentity)
		if err != nil {
			return Command{}, fmt.Errorf("%w: header identity: %v", ErrInvalidCommand, err)
		}
		if cmd.Caller != "" && cmd.Caller != id {
			return Command{}, fmt.Errorf("%w: caller %s does not match header identity %s", ErrInvalidCommand, cmd.Caller, id)
		}
		cmd.Caller = id
	}

	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// --- JSON wire formats ---
// Field names are snake_case; amounts are decimal strings of base units.

type purchaseJSON struct {
	RequestID string `json:"request_id"`
	Buyer     string `json:"buyer"`
	Units     string `json:"units"`
}

func parsePurchase(data []byte) (Command, error) {
	var j purchaseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("unmarshal: %w", err)
	}
	reqID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return Command{}, fmt.Errorf("request_id: %w", err)
	}
	buyer, err := optionalIdentity(j.Buyer)
	if err != nil {
		return Command{}, fmt.Errorf("buyer: %w", err)
	}
	units, err := fpmath.ParseAmount(j.Units)
	if err != nil {
		return Command{}, fmt.Errorf("units: %w", err)
	}
	return Command{RequestID: reqID, Caller: buyer, Amount: units}, nil
}

type issueJSON struct {
	RequestID   string `json:"request_id"`
	Admin       string `json:"admin"`
	Beneficiary string `json:"beneficiary"`
	Units       string `json:"units"`
}

func parseIssue(data []byte) (Command, error) {
	var j issueJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("unmarshal: %w", err)
	}
	reqID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return Command{}, fmt.Errorf("request_id: %w", err)
	}
	admin, err := optionalIdentity(j.Admin)
	if err != nil {
		return Command{}, fmt.Errorf("admin: %w", err)
	}
	beneficiary, err := event.NewIdentity(j.Beneficiary)
	if err != nil {
		return Command{}, fmt.Errorf("beneficiary: %w", err)
	}
	units, err := fpmath.ParseAmount(j.Units)
	if err != nil {
		return Command{}, fmt.Errorf("units: %w", err)
	}
	return Command{RequestID: reqID, Caller: admin, Target: beneficiary, Amount: units}, nil
}

type claimJSON struct {
	RequestID string `json:"request_id"`
	Claimant  string `json:"claimant"`
}

func parseClaim(data []byte) (Command, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("unmarshal: %w", err)
	}
	reqID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return Command{}, fmt.Errorf("request_id: %w", err)
	}
	claimant, err := optionalIdentity(j.Claimant)
	if err != nil {
		return Command{}, fmt.Errorf("claimant: %w", err)
	}
	return Command{RequestID: reqID, Caller: claimant}, nil
}

type depositJSON struct {
	DepositID string `json:"deposit_id"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
}

func parseDeposit(data []byte) (Command, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("unmarshal: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return Command{}, fmt.Errorf("deposit_id: %w", err)
	}
	account, err := optionalIdentity(j.Account)
	if err != nil {
		return Command{}, fmt.Errorf("account: %w", err)
	}
	amount, err := fpmath.ParseAmount(j.Amount)
	if err != nil {
		return Command{}, fmt.Errorf("amount: %w", err)
	}
	return Command{RequestID: depositID, Caller: account, Amount: amount}, nil
}

// sweepJSON serves both sweep kinds
type sweepJSON struct {
	RequestID string `json:"request_id"`
	Admin     string `json:"admin"`
	To        string `json:"to"`
}

func parseSweep(data []byte) (Command, error) {
	var j sweepJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("unmarshal: %w", err)
	}
	reqID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return Command{}, fmt.Errorf("request_id: %w", err)
	}
	admin, err := optionalIdentity(j.Admin)
	if err != nil {
		return Command{}, fmt.Errorf("admin: %w", err)
	}
	to, err := event.NewIdentity(j.To)
	if err != nil {
		return Command{}, fmt.Errorf("to: %w", err)
	}
	return Command{RequestID: reqID, Caller: admin, Target: to}, nil
}

// optionalIdentity allows an empty caller field, which the header fills in.
func optionalIdentity(s string) (event.Identity, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return event.NewIdentity(s)
}
