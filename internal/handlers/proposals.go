package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"barter-service/internal/models"
	"barter-service/internal/telemetry"
)

// ProposalHandler manages trade proposal endpoints.
type ProposalHandler struct {
	sessions SessionFactory
	audit    *telemetry.AuditEmitter
}

// NewProposalHandler constructs a ProposalHandler.
func NewProposalHandler(sessions SessionFactory, audit *telemetry.AuditEmitter) *ProposalHandler {
	return &ProposalHandler{sessions: sessions, audit: audit}
}

// CreateProposal handles POST /items/:item_id/proposals.
func (h *ProposalHandler) CreateProposal(c *gin.Context) {
	itemID, ok := parseIDParam(c, "item_id")
	if !ok {
		return
	}

	var req struct {
		Description string  `json:"proposed_item_description" binding:"required"`
		Message     *string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proposal, err := h.sessions(c.GetInt("userID")).Propose(c.Request.Context(), itemID, req.Description, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "proposal.create", "proposal", proposal.ID, "Proposal created")
	c.JSON(http.StatusCreated, proposal)
}

// ListItemProposals handles GET /items/:item_id/proposals. The owner sees every
// proposal, anyone else only their own.
func (h *ProposalHandler) ListItemProposals(c *gin.Context) {
	itemID, ok := parseIDParam(c, "item_id")
	if !ok {
		return
	}
	list, err := h.sessions(c.GetInt("userID")).ItemProposals(c.Request.Context(), itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": list})
}

// ListMyProposals handles GET /proposals?type=sent|received.
func (h *ProposalHandler) ListMyProposals(c *gin.Context) {
	direction := c.Query("type")
	if direction != "" && direction != models.DirectionSent && direction != models.DirectionReceived {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be sent or received"})
		return
	}
	list, err := h.sessions(c.GetInt("userID")).MyProposals(c.Request.Context(), direction)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": list})
}

// GetProposal handles GET /proposals/:proposal_id.
func (h *ProposalHandler) GetProposal(c *gin.Context) {
	proposalID, ok := parseIDParam(c, "proposal_id")
	if !ok {
		return
	}
	proposal, err := h.sessions(c.GetInt("userID")).Proposal(c.Request.Context(), proposalID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// Accept handles POST /proposals/:proposal_id/accept.
func (h *ProposalHandler) Accept(c *gin.Context) {
	h.transition(c, "proposal.accept", "Proposal accepted", SessionAPI.Accept)
}

// Reject handles POST /proposals/:proposal_id/reject.
func (h *ProposalHandler) Reject(c *gin.Context) {
	h.transition(c, "proposal.reject", "Proposal rejected", SessionAPI.Reject)
}

// Withdraw handles POST /proposals/:proposal_id/withdraw.
func (h *ProposalHandler) Withdraw(c *gin.Context) {
	h.transition(c, "proposal.withdraw", "Proposal withdrawn", SessionAPI.Withdraw)
}

// Complete handles POST /proposals/:proposal_id/complete.
func (h *ProposalHandler) Complete(c *gin.Context) {
	h.transition(c, "proposal.complete", "Proposal completed", SessionAPI.Complete)
}

type transitionFunc func(s SessionAPI, ctx context.Context, proposalID int) (models.Proposal, error)

func (h *ProposalHandler) transition(c *gin.Context, action, auditText string, op transitionFunc) {
	proposalID, ok := parseIDParam(c, "proposal_id")
	if !ok {
		return
	}
	proposal, err := op(h.sessions(c.GetInt("userID")), c.Request.Context(), proposalID)
	if err != nil {
		emitAudit(c, h.audit, "WARN", action, "proposal", proposalID, auditText+" failed")
		respondError(c, err)
		return
	}
	emitAudit(c, h.audit, "INFO", action, "proposal", proposalID, auditText)
	c.JSON(http.StatusOK, proposal)
}
