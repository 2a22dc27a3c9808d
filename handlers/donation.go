package handlers

import (
	"net/http"

	"donation-svc/apperr"
	"donation-svc/donations"
	"donation-svc/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DonationHandler struct {
	initiator *donations.Initiator
	status    *donations.StatusQuery
	directory *donations.Directory
	logger    *zap.Logger
}

func NewDonationHandler(initiator *donations.Initiator, status *donations.StatusQuery, directory *donations.Directory, logger *zap.Logger) *DonationHandler {
	return &DonationHandler{
		initiator: initiator,
		status:    status,
		directory: directory,
		logger:    logger,
	}
}

func (h *DonationHandler) Checkout(c *gin.Context) {
	var req donations.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.Validation("Invalid request body"))
		return
	}

	var donor *donations.Donor
	if id, ok := middleware.CurrentIdentity(c); ok {
		donor = &donations.Donor{ID: id.UserID, Name: id.Name, Email: id.Email}
	}

	result, err := h.initiator.Initiate(c.Request.Context(), req, donor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (h *DonationHandler) Status(c *gin.Context) {
	result, err := h.status.Status(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (h *DonationHandler) CampaignWall(c *gin.Context) {
	entries, err := h.directory.DonorWall(c.Request.Context(), c.Param("campaignId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// MyDonations must run behind middleware.RequireIdentity.
func (h *DonationHandler) MyDonations(c *gin.Context) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, h.logger, apperr.Unauthorized("Not authenticated"))
		return
	}

	history, err := h.directory.DonorHistory(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, history)
}
