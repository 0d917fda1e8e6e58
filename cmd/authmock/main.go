// This is a **mock authentication service**, designed to provide JWT tokens
// for the review service during local development.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/ledgerline/regsync/internal/registry/auth"
)

const (
	defaultPort   = "8081"
	defaultSecret = "jwt_secret"
)

// TokenResponse represents the response structure
type TokenResponse struct {
	Token string `json:"token"`
}

// tokenHandler generates a JWT and returns it in a JSON response
func tokenHandler(w http.ResponseWriter, _ *http.Request) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = defaultSecret
	}

	// Simulate a reviewer identity for the token
	subject := "compliance-reviewer"

	token, err := auth.GenerateToken(subject, secret)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	resp := TokenResponse{Token: token}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode token", http.StatusInternalServerError)
	}
}

func main() {
	port := defaultPort
	http.HandleFunc("/token", tokenHandler)

	log.Printf("Authentication service running on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
