package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/service"
)

// Frame actions.
const (
	ActionEntry = "entry"
	ActionExit  = "exit"
)

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Frame is a scan sent by a gate terminal.
type Frame struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	Token    string `json:"token"`
	LotID    string `json:"lot_id,omitempty"`
	RateType string `json:"rate_type,omitempty"`
}

// Reply answers one Frame.
type Reply struct {
	ID      string                 `json:"id"`
	Status  string                 `json:"status"`
	Code    string                 `json:"code,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Session *models.ParkingSession `json:"session,omitempty"`
	Charge  *models.ChargeRecord   `json:"charge,omitempty"`
}

// GateHandler runs gate scans.
type GateHandler interface {
	Entry(ctx context.Context, input service.EntryInput) (*models.ParkingSession, error)
	Exit(ctx context.Context, input service.ExitInput) (*service.ExitResult, error)
}

// GateProcessor decodes frames, dispatches them to the gate service and
// encodes the reply. Every frame gets a reply, including undecodable ones.
type GateProcessor struct {
	gates  GateHandler
	logger *zap.Logger
}

// NewGateProcessor builds processor.
func NewGateProcessor(gates GateHandler, logger *zap.Logger) *GateProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GateProcessor{gates: gates, logger: logger}
}

// Process handles raw frame and returns the reply bytes.
func (p *GateProcessor) Process(ctx context.Context, peer Peer, raw []byte) ([]byte, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return json.Marshal(errorReply("", fmt.Errorf("%w: undecodable frame", service.ErrInvalidArgument)))
	}
	return json.Marshal(p.dispatch(ctx, peer, frame))
}

func (p *GateProcessor) dispatch(ctx context.Context, peer Peer, frame Frame) Reply {
	switch frame.Action {
	case ActionEntry:
		session, err := p.gates.Entry(ctx, service.EntryInput{
			Token:    frame.Token,
			LotID:    frame.LotID,
			GateID:   peer.GateID,
			RateType: frame.RateType,
			AgentID:  peer.AgentID,
		})
		if err != nil {
			p.logFailure(peer, frame, err)
			return errorReply(frame.ID, err)
		}
		return Reply{ID: frame.ID, Status: StatusOK, Session: session}
	case ActionExit:
		result, err := p.gates.Exit(ctx, service.ExitInput{
			Token:   frame.Token,
			GateID:  peer.GateID,
			AgentID: peer.AgentID,
		})
		if err != nil {
			p.logFailure(peer, frame, err)
			return errorReply(frame.ID, err)
		}
		return Reply{ID: frame.ID, Status: StatusOK, Session: result.Session, Charge: result.Charge}
	default:
		return errorReply(frame.ID, fmt.Errorf("%w: unsupported action %q", service.ErrInvalidArgument, frame.Action))
	}
}

func (p *GateProcessor) logFailure(peer Peer, frame Frame, err error) {
	if service.Code(err) != service.CodeInternal {
		return
	}
	p.logger.Error("gate scan failed",
		zap.String("gate_id", peer.GateID),
		zap.String("action", frame.Action),
		zap.Error(err),
	)
}

func errorReply(id string, err error) Reply {
	return Reply{ID: id, Status: StatusError, Code: service.Code(err), Error: err.Error()}
}
