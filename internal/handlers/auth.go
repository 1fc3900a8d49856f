package handlers

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"

	"prediction-ledger/internal/auth"
	"prediction-ledger/internal/repository"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	repo *repository.Repository
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(repo *repository.Repository) *AuthHandler {
	return &AuthHandler{
		repo: repo,
	}
}

// loginMessage is the fixed message owners sign to prove wallet control.
// TODO: add a server-issued nonce to prevent replay.
var loginMessage = []byte("Sign this message to authenticate with Prediction Ledger")

// WalletLogin authenticates an owner by their Solana wallet address and
// signature over the login message.
// POST /auth/wallet
func (h *AuthHandler) WalletLogin(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"wallet_address" binding:"required"`
		Signature     string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.WalletAddress) < 32 || len(req.WalletAddress) > 44 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return
	}

	pubKey, err := base58.Decode(req.WalletAddress)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid public key format"})
		return
	}

	// Wallets return the signature as base58 or hex depending on the client
	sig, err := base58.Decode(req.Signature)
	if err != nil {
		sig, err = hex.DecodeString(req.Signature)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature format"})
			return
		}
	}

	if !ed25519.Verify(pubKey, loginMessage, sig) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	owner, err := h.repo.GetOrCreateOwnerByWallet(c.Request.Context(), req.WalletAddress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to authenticate"})
		return
	}

	token, err := auth.GenerateToken(owner.ID, owner.WalletAddress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"owner": owner,
	})
}

// Logout handles owner logout (stateless JWT — client-side only)
// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Successfully logged out",
	})
}

// GetMe returns the currently authenticated owner's profile
// GET /auth/me
func (h *AuthHandler) GetMe(c *gin.Context) {
	ownerID, exists := auth.GetOwnerID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	owner, err := h.repo.GetOwnerByID(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "owner not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"owner": owner,
	})
}
