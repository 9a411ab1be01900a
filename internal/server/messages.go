package server

import (
	"github.com/MrWong99/wordlens/internal/flashcard"
	"github.com/MrWong99/wordlens/pkg/types"
)

// Websocket message types.
const (
	msgLookup    = "lookup"
	msgCancel    = "cancel"
	msgSave      = "save"
	msgPartial   = "partial"
	msgFinished  = "finished"
	msgFailed    = "failed"
	msgCancelled = "cancelled"
	msgSaved     = "saved"
	msgError     = "error"
)

// clientMessage is a websocket frame sent by the browser.
type clientMessage struct {
	Type    string `json:"type"`
	Word    string `json:"word,omitempty"`
	Context string `json:"context,omitempty"`

	// Passage and Offset let the client send the surrounding text instead
	// of a ready context.
	Passage string `json:"passage,omitempty"`
	Offset  *int   `json:"offset,omitempty"`
}

// serverMessage is a websocket frame sent to the browser.
type serverMessage struct {
	Type      string              `json:"type"`
	RequestID uint64              `json:"request_id,omitempty"`
	HTML      string              `json:"html,omitempty"`
	Result    *types.LookupResult `json:"result,omitempty"`
	Raw       string              `json:"raw,omitempty"`
	Error     string              `json:"error,omitempty"`
	ID        int64               `json:"id,omitempty"`
}

type lookupRequest struct {
	Word    string `json:"word"`
	Context string `json:"context"`
	Passage string `json:"passage,omitempty"`
	Offset  *int   `json:"offset,omitempty"`
}

type lookupResponse struct {
	Result types.LookupResult `json:"result"`
	HTML   string             `json:"html"`
	Raw    string             `json:"raw"`
}

type cardRequest struct {
	Word        string   `json:"word"`
	MeaningHTML string   `json:"meaning_html"`
	Context     string   `json:"context"`
	Deck        string   `json:"deck,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type cardResponse struct {
	ID int64 `json:"id"`
}

type cardsResponse struct {
	Cards []flashcard.Card `json:"cards"`
}

type errorResponse struct {
	Error string `json:"error"`
}
