package collab

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Request-reply subjects, relative to the client prefix. The %s token is the
// address of the collaborator being asked.
const (
	SubjectOraclePrice        = "oracle.%s.price"
	SubjectLiquidationSeizure = "liquidation.%s.seizure"
	SubjectPoolBalance        = "pool.%s.balance"
)

// Subject resolves pattern for target under prefix. The address must be a
// single subject token.
func Subject(prefix, pattern string, target ledger.Address) (string, error) {
	if target.IsZero() || strings.ContainsAny(string(target), ".*> \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return prefix + "." + fmt.Sprintf(pattern, target), nil
}

// NATSClient queries collaborators over NATS request-reply with JSON bodies.
// One client serves all three collaborator interfaces.
type NATSClient struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

var (
	_ Oracle            = (*NATSClient)(nil)
	_ LiquidationEngine = (*NATSClient)(nil)
	_ Pool              = (*NATSClient)(nil)
)

// NewNATSClient builds a client publishing under prefix (e.g. "cdp.collab").
// timeout bounds each request whose context carries no deadline.
func NewNATSClient(nc *nats.Conn, prefix string, timeout time.Duration) *NATSClient {
	return &NATSClient{nc: nc, prefix: prefix, timeout: timeout}
}

type replyError struct {
	Error string `json:"error,omitempty"`
}

type priceRequest struct {
	Asset ledger.AssetID `json:"asset"`
}

type priceReply struct {
	replyError
	Price *fpmath.Dec `json:"price"`
}

func (c *NATSClient) Price(ctx context.Context, oracle ledger.Address, asset ledger.AssetID) (fpmath.Dec, error) {
	var reply priceReply
	if err := c.request(ctx, SubjectOraclePrice, oracle, priceRequest{Asset: asset}, &reply); err != nil {
		return fpmath.Zero, fmt.Errorf("oracle price %s: %w", asset, err)
	}
	if reply.Price == nil {
		return fpmath.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	return *reply.Price, nil
}

type seizureReply struct {
	replyError
	Seize ledger.Basket `json:"seize"`
}

func (c *NATSClient) ComputeSeizure(ctx context.Context, engine ledger.Address, req SeizureRequest) (ledger.Basket, error) {
	var reply seizureReply
	if err := c.request(ctx, SubjectLiquidationSeizure, engine, req, &reply); err != nil {
		return nil, fmt.Errorf("liquidation seizure for %s: %w", req.Minter, err)
	}
	return reply.Seize, nil
}

type balanceRequest struct {
	Denom string `json:"denom"`
}

type balanceReply struct {
	replyError
	Balance fpmath.Dec `json:"balance"`
}

func (c *NATSClient) StableBalance(ctx context.Context, pool ledger.Address, denom string) (fpmath.Dec, error) {
	var reply balanceReply
	if err := c.request(ctx, SubjectPoolBalance, pool, balanceRequest{Denom: denom}, &reply); err != nil {
		return fpmath.Zero, fmt.Errorf("pool balance %s: %w", denom, err)
	}
	return reply.Balance, nil
}

func (c *NATSClient) request(ctx context.Context, pattern string, target ledger.Address, req, reply interface{}) error {
	subject, err := Subject(c.prefix, pattern, target)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("unmarshal reply: %w", err)
	}
	if e, ok := reply.(interface{ remoteError() error }); ok {
		return e.remoteError()
	}
	return nil
}

func (r *replyError) remoteError() error {
	if r.Error == "" {
		return nil
	}
	return errors.New(r.Error)
}
