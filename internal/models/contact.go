package models

import (
	"net/mail"
	"strings"
	"time"
)

// ContactMessage is a message sent through the contact form
type ContactMessage struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ContactInput is the payload of the contact form
type ContactInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// DefaultContactSubject is used when the form leaves the subject empty
const DefaultContactSubject = "General inquiry"

const maxContactMessage = 5000

// Validate returns field errors, or nil if the input can be stored
func (in ContactInput) Validate() map[string]string {
	fields := make(map[string]string)
	if strings.TrimSpace(in.Name) == "" {
		fields["name"] = "is required"
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		fields["email"] = "is required"
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields["email"] = "is not a valid email address"
	}
	switch msg := strings.TrimSpace(in.Message); {
	case msg == "":
		fields["message"] = "is required"
	case len(msg) > maxContactMessage:
		fields["message"] = "is too long"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// NewsletterRequest is the payload of the newsletter-subscribe function
type NewsletterRequest struct {
	Email       string   `json:"email"`
	Source      string   `json:"source,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
}

// NewsletterResult is returned by the newsletter-subscribe function
type NewsletterResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewsletterStats is returned by the newsletter-stats function
type NewsletterStats struct {
	Subscribers int `json:"subscribers"`
}
