package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"everestmart-backend/internal/users"
	"everestmart-backend/pkg/ctxmanage"
	"everestmart-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// AddAddress saves a delivery address in the caller's address book.
func (h *Handler) AddAddress(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}

	var na users.NewAddress
	if err := c.ShouldBindJSON(&na); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	validate := validator.New()
	if err := validate.Struct(na); err != nil {
		if vErrs, ok := err.(validator.ValidationErrors); ok {
			for _, vErr := range vErrs {
				if vErr.Tag() == "required" {
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Field() + " value missing"})
					return
				}
			}
		}
		slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	address, err := h.u.InsertAddress(c.Request.Context(), claims.Subject, na)
	if err != nil {
		slog.Error("error saving address", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Address creation failed"})
		return
	}

	c.JSON(http.StatusCreated, address)
}

// ListAddresses returns the caller's address book, default first.
func (h *Handler) ListAddresses(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}

	list, err := h.u.ListAddresses(c.Request.Context(), claims.Subject)
	if err != nil {
		slog.Error("error listing addresses", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch addresses"})
		return
	}
	if list == nil {
		list = []users.Address{}
	}
	c.JSON(http.StatusOK, gin.H{"addresses": list})
}

// DeleteAddress removes one of the caller's saved addresses. Orders
// placed with it keep their snapshot.
func (h *Handler) DeleteAddress(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}

	err := h.u.DeleteAddress(c.Request.Context(), claims.Subject, c.Param("id"))
	if err != nil {
		if errors.Is(err, users.ErrAddressNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Address not found"})
			return
		}
		slog.Error("error deleting address", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Address deletion failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Address deleted successfully"})
}
