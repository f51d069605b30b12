package engine

import (
	"context"
	"errors"
	"time"

	"sentinel/internal/ipc"
)

// Handler answers IPC requests by delegating to the engine. It implements
// ipc.Handler; one instance serves every connection.
type Handler struct {
	engine  *Engine
	version string
}

// NewHandler creates the IPC request handler for the given engine.
func NewHandler(e *Engine, version string) *Handler {
	return &Handler{engine: e, version: version}
}

// HandleMessage routes one request to the matching engine operation.
func (h *Handler) HandleMessage(ctx context.Context, msg *ipc.Message) (*ipc.Message, error) {
	switch msg.Header.Type {
	case ipc.MsgStatusRequest:
		return h.handleStatus(msg)
	case ipc.MsgBindSession:
		return h.handleBind(ctx, msg)
	case ipc.MsgClearSession:
		return h.handleClear(msg)
	case ipc.MsgStartCollection:
		return h.handleStartCollection(ctx, msg)
	case ipc.MsgStopCollection:
		return h.handleStopCollection(ctx, msg)
	case ipc.MsgTrustRequest:
		return h.handleTrust(msg)
	case ipc.MsgActionsRequest:
		return h.handleActions(msg)
	case ipc.MsgShutdown:
		return h.handleShutdown(msg)
	default:
		return ipc.NewErrorMessage(msg.Header.RequestID, ipc.ErrInvalidRequest, "unknown message type"), nil
	}
}

func (h *Handler) handleStatus(msg *ipc.Message) (*ipc.Message, error) {
	e := h.engine
	started := e.StartedAt()
	status := &ipc.StatusResponse{
		Version:       h.version,
		StartedAt:     started,
		Collecting:    e.Collecting(),
		LiveConnected: e.channel.Connected(),
		Restricted:    e.Restricted(),
		BufferedKeys:  e.buffers.Keys.Len(),
		BufferedMoves: e.buffers.Pointers.Len(),
		Trust:         h.trustInfo(),
	}
	if !started.IsZero() {
		status.Uptime = time.Since(started).Round(time.Second).String()
	}
	if boundAt, ok := e.session.BoundAt(); ok {
		status.SessionBound = true
		status.SessionBoundAt = boundAt
	}
	return ipc.NewResponse(ipc.MsgStatusResponse, msg.Header.RequestID, status)
}

func (h *Handler) trustInfo() *ipc.Trust {
	snapshot, ok := h.engine.monitor.Current()
	if !ok {
		return nil
	}
	return &ipc.Trust{
		Score:      snapshot.Score,
		Level:      snapshot.Level.String(),
		Trend:      string(h.engine.monitor.Trend()),
		CapturedAt: snapshot.CapturedAt,
		History:    len(h.engine.monitor.History()),
	}
}

func (h *Handler) handleBind(ctx context.Context, msg *ipc.Message) (*ipc.Message, error) {
	var req ipc.BindSessionRequest
	if err := ipc.Decode(msg.Payload, &req); err != nil {
		return ipc.NewErrorMessage(msg.Header.RequestID, ipc.ErrInvalidRequest, "malformed bind request"), nil
	}
	if req.Token == "" {
		return ipc.NewResponse(ipc.MsgBindSessionResp, msg.Header.RequestID, &ipc.BindSessionResponse{
			Error: "session token is required",
		})
	}
	if err := h.engine.BindSession(ctx, req.Token); err != nil {
		return ipc.NewResponse(ipc.MsgBindSessionResp, msg.Header.RequestID, &ipc.BindSessionResponse{
			Error: err.Error(),
		})
	}
	return ipc.NewResponse(ipc.MsgBindSessionResp, msg.Header.RequestID, &ipc.BindSessionResponse{Success: true})
}

func (h *Handler) handleClear(msg *ipc.Message) (*ipc.Message, error) {
	h.engine.ClearSession()
	return ipc.NewResponse(ipc.MsgClearSessionResp, msg.Header.RequestID, &ipc.ClearSessionResponse{Success: true})
}

func (h *Handler) handleStartCollection(ctx context.Context, msg *ipc.Message) (*ipc.Message, error) {
	err := h.engine.StartCollection(ctx)
	if errors.Is(err, ErrNoSession) {
		return ipc.NewErrorMessage(msg.Header.RequestID, ipc.ErrNoSession, err.Error()), nil
	}
	resp := &ipc.CollectionResponse{
		Success: err == nil,
		Running: h.engine.Collecting(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return ipc.NewResponse(ipc.MsgStartCollectionResp, msg.Header.RequestID, resp)
}

func (h *Handler) handleStopCollection(ctx context.Context, msg *ipc.Message) (*ipc.Message, error) {
	h.engine.StopCollection(ctx)
	return ipc.NewResponse(ipc.MsgStopCollectionResp, msg.Header.RequestID, &ipc.CollectionResponse{
		Success: true,
		Running: h.engine.Collecting(),
	})
}

func (h *Handler) handleTrust(msg *ipc.Message) (*ipc.Message, error) {
	info := h.trustInfo()
	if info == nil {
		return ipc.NewErrorMessage(msg.Header.RequestID, ipc.ErrUnavailable, "no trust assessment yet"), nil
	}
	return ipc.NewResponse(ipc.MsgTrustResponse, msg.Header.RequestID, info)
}

func (h *Handler) handleActions(msg *ipc.Message) (*ipc.Message, error) {
	var req ipc.ActionsRequest
	if len(msg.Payload) > 0 {
		if err := ipc.Decode(msg.Payload, &req); err != nil {
			return ipc.NewErrorMessage(msg.Header.RequestID, ipc.ErrInvalidRequest, "malformed actions request"), nil
		}
	}
	if h.engine.journal == nil {
		return ipc.NewErrorMessage(msg.Header.RequestID, ipc.ErrUnavailable, "action journal is disabled"), nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	records, err := h.engine.journal.RecentActions(limit)
	if err != nil {
		return ipc.NewErrorMessage(msg.Header.RequestID, ipc.ErrInternalError, "journal query failed: "+err.Error()), nil
	}
	resp := &ipc.ActionsResponse{Actions: make([]ipc.ActionInfo, 0, len(records))}
	for _, r := range records {
		resp.Actions = append(resp.Actions, ipc.ActionInfo{
			At:     r.At,
			Action: string(r.Action),
			Reason: r.Reason,
			Score:  r.Score,
		})
	}
	return ipc.NewResponse(ipc.MsgActionsResponse, msg.Header.RequestID, resp)
}

func (h *Handler) handleShutdown(msg *ipc.Message) (*ipc.Message, error) {
	// The acknowledgement must reach the client before the daemon winds
	// down, so the shutdown itself runs after this handler returns.
	if fn := h.engine.shutdownFn; fn != nil {
		go fn()
	}
	return ipc.NewResponse(ipc.MsgShutdownResp, msg.Header.RequestID, &ipc.ShutdownResponse{Success: true})
}
