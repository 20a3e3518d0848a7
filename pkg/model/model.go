// Package model defines the core data models for the message history store.
// Metadata rows stay small so paging is cheap; raw payloads are loaded on demand.
package model

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidRecord is returned when a record is missing its comment or color.
var ErrInvalidRecord = errors.New("record requires non-empty comment and color")

// ────────────────────────────────────────────────────────────────────────────────
// Endpoint - connection target the transaction was sent to
// ────────────────────────────────────────────────────────────────────────────────

// Endpoint is the network service a request was sent to.
type Endpoint struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"`
}

// Scheme returns "https" for secure endpoints and "http" otherwise.
func (e Endpoint) Scheme() string {
	if e.Secure {
		return "https"
	}
	return "http"
}

// Address returns host:port suitable for dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL reconstructs the base URL of the endpoint, omitting default ports.
func (e Endpoint) URL() string {
	if (e.Secure && e.Port == 443) || (!e.Secure && e.Port == 80) || e.Port == 0 {
		return fmt.Sprintf("%s://%s", e.Scheme(), e.Host)
	}
	return fmt.Sprintf("%s://%s", e.Scheme(), e.Address())
}

// ────────────────────────────────────────────────────────────────────────────────
// MessageRecord - one captured transaction
// ────────────────────────────────────────────────────────────────────────────────

// MessageRecord is a captured request/response pair with display metadata.
// Display fields are kept as strings exactly as they were shown.
type MessageRecord struct {
	ID          string   `json:"id"`
	CreatedAt   int64    `json:"created_at"` // Unix milliseconds
	Host        string   `json:"host"`
	URL         string   `json:"url"`
	Method      string   `json:"method"`
	Status      string   `json:"status"`
	Length      string   `json:"length"`
	Comment     string   `json:"comment"`
	Color       string   `json:"color"`
	ContentHash string   `json:"content_hash"`
	Endpoint    Endpoint `json:"endpoint"`

	Request  []byte `json:"-"`
	Response []byte `json:"-"`
}

// Validate rejects records that must never reach the store.
func (r *MessageRecord) Validate() error {
	if strings.TrimSpace(r.Comment) == "" || strings.TrimSpace(r.Color) == "" {
		return ErrInvalidRecord
	}
	return nil
}

// MessageMetadata is the row shown in paged listings (no payloads).
type MessageMetadata struct {
	ID          string `json:"id"`
	Method      string `json:"method"`
	URL         string `json:"url"`
	Comment     string `json:"comment"`
	Length      string `json:"length"`
	Color       string `json:"color"`
	Status      string `json:"status"`
	ContentHash string `json:"content_hash"`
}

// ────────────────────────────────────────────────────────────────────────────────
// MatchEntry - rule name / extracted value pair
// ────────────────────────────────────────────────────────────────────────────────

// MatchEntry links one extracted value to a message.
type MatchEntry struct {
	MessageID string `json:"message_id,omitempty"`
	RuleName  string `json:"rule_name"`
	Value     string `json:"value"`
}

// Transaction is the full payload of a stored message, materialized on demand.
type Transaction struct {
	Endpoint Endpoint
	Request  []byte
	Response []byte
}

// HostFromURL returns the authority (host[:port]) of rawURL, or fallback when
// the URL has none.
func HostFromURL(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fallback
	}
	return u.Host
}
