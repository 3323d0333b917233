package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/auth"
	"github.com/vpn-sentinel/sentinel/internal/pkg/database"
	"github.com/vpn-sentinel/sentinel/internal/pkg/usercontext"
)

type registerRequest struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a new account and returns a bearer token.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Requête invalide"})
	}
	if len(req.Password) < 8 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Le mot de passe doit contenir au moins 8 caractères"})
	}

	user, err := models.NewUser(strings.TrimSpace(req.Firstname), strings.TrimSpace(req.Lastname), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Données d'inscription invalides"})
	}

	db := database.GetDB()
	var existing models.User
	err = db.Where("email = ?", user.Email).First(&existing).Error
	if err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Cet email est déjà utilisé"})
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}

	if err := db.Create(user).Error; err != nil {
		log.Errorf("[Auth] Failed to create user: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}

	token, err := auth.CreateToken(user.ID)
	if err != nil {
		log.Errorf("[Auth] Token creation failed for %s: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Compte créé avec succès",
		"token":   token,
		"user":    user,
	})
}

// HandleLogin authenticates by email and password.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Requête invalide"})
	}

	db := database.GetDB()
	var user models.User
	err := db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Email ou mot de passe incorrect"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if !models.CheckPasswordHash(req.Password, user.PasswordHash) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Email ou mot de passe incorrect"})
	}
	if !user.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Compte désactivé"})
	}

	now := time.Now()
	if err := db.Model(&user).UpdateColumn("last_login_at", &now).Error; err != nil {
		log.Warnf("[Auth] Could not record login time for %s: %v", user.ID, err)
	}

	token, err := auth.CreateToken(user.ID)
	if err != nil {
		log.Errorf("[Auth] Token creation failed for %s: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}

	return c.JSON(fiber.Map{
		"message": "Connexion réussie",
		"token":   token,
		"user":    user,
	})
}

// HandleLogout revokes the current bearer token.
func HandleLogout(c *fiber.Ctx) error {
	ctx := usercontext.GetUserContext(c)
	if err := auth.RevokeToken(ctx.Token); err != nil {
		log.Warnf("[Auth] Token revocation failed: %v", err)
	}
	return c.JSON(fiber.Map{"message": "Déconnexion réussie"})
}

// HandleMe returns the authenticated user's profile.
func HandleMe(c *fiber.Ctx) error {
	ctx := usercontext.GetUserContext(c)

	var user models.User
	if err := database.GetDB().Where("id = ?", ctx.UserID).First(&user).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Utilisateur introuvable"})
	}
	return c.JSON(fiber.Map{"user": user})
}
