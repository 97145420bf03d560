package domain

import "time"

// User represents a user entity.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Nickname     string    `json:"nickname"`
	Avatar       string    `json:"avatar,omitempty"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the authenticated caller together with the interaction
// state the front end needs after login.
type Principal struct {
	UserID          string   `json:"user_id"`
	Username        string   `json:"username"`
	Nickname        string   `json:"nickname"`
	Avatar          string   `json:"avatar,omitempty"`
	Roles           []string `json:"roles"`
	LikedArticleIDs []string `json:"liked_article_ids"`
	LikedCommentIDs []string `json:"liked_comment_ids"`
	LikedTalkIDs    []string `json:"liked_talk_ids"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest represents a refresh token request.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// AuthResponse represents a login response with tokens.
type AuthResponse struct {
	Principal        Principal `json:"user"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  int64     `json:"access_expires_at"`
	RefreshExpiresAt int64     `json:"refresh_expires_at"`
}
