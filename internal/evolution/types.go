package evolution

import (
	"fmt"
	"time"
)

// Connection states after folding the upstream vocabulary.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateQR           = "qr"
	StateConnected    = "connected"
)

// APIError is a non-2xx reply from the Evolution API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evolution api: status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying (5xx).
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// QR is the pairing payload for a not-yet-connected instance.
type QR struct {
	Payload   string `json:"qr"`      // base64 image or textual pairing code
	Kind      string `json:"qr_type"` // qr_image | code
	ExpiresIn int    `json:"expires_in"`
}

// Status is the folded connection state of an instance.
type Status struct {
	State string `json:"state"`
	Phone string `json:"phone,omitempty"`
}

// CatalogEntry is one chat from the group or contact listings.
type CatalogEntry struct {
	ID           string
	Name         string
	PhoneNumber  *string
	LastActivity *time.Time
}

// instanceState is the upstream connectionState payload.
type instanceState struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
		Owner        string `json:"owner"`
	} `json:"instance"`
}

// connectResponse is the upstream connect payload.
type connectResponse struct {
	Base64      string `json:"base64"`
	Code        string `json:"code"`
	PairingCode string `json:"pairingCode"`
	Count       int    `json:"count"`
}

// groupEntry is one row of /group/fetchAllGroups.
type groupEntry struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	SubjectTime int64  `json:"subjectTime"`
}

// contactEntry is one row of /chat/findContacts.
type contactEntry struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

// chatEntry is one row of the /chat/findChats fall-back listing.
type chatEntry struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	LastMessageTimestamp int64  `json:"lastMsgTimestamp"`
}

// sendResponse is the upstream reply to sendText/sendMedia.
type sendResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
}
