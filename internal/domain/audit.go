package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditOutcome is the recorded result of an audited action
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// Action codes written by the security subsystem and its callers.
const (
	ActionAuthLogin       = "auth.login"
	ActionAuthLogout      = "auth.logout"
	ActionPHIPrefix       = "phi."
	ActionPHIView         = "phi.view"
	ActionPrivilegeChange = "privilege.change"
	ActionAccessDenied    = "access.denied"
	ActionDataExport      = "data.export"
	ActionSecurityAPI     = "security.api.access"
)

// AuditRecord is an immutable, hash-chained audit log row.
// PreviousHash is nil only for rows written before chaining existed.
type AuditRecord struct {
	ID            int64                  `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	UserID        *int64                 `json:"userId,omitempty"`
	UserEmail     *string                `json:"userEmail,omitempty"`
	UserRole      *string                `json:"userRole,omitempty"`
	Action        string                 `json:"action"`
	ResourceType  *string                `json:"resourceType,omitempty"`
	ResourceID    *string                `json:"resourceId,omitempty"`
	IPAddress     *string                `json:"ipAddress,omitempty"`
	UserAgent     *string                `json:"userAgent,omitempty"`
	RequestMethod *string                `json:"requestMethod,omitempty"`
	RequestPath   *string                `json:"requestPath,omitempty"`
	Status        AuditOutcome           `json:"status"`
	ErrorCode     *string                `json:"errorCode,omitempty"`
	ErrorMessage  *string                `json:"errorMessage,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	PreviousHash  *string                `json:"previousHash"`
}

// Actor identifies who performed an audited action. Every field is optional
// so unauthenticated attempts can still be recorded.
type Actor struct {
	UserID *int64
	Email  *string
	Role   *string
}

// Resource describes what an audited action touched
type Resource struct {
	Type string
	ID   string
}

// Origin describes where a request came from
type Origin struct {
	IPAddress string
	UserAgent string
	Method    string
	Path      string
}

// AuditEvent is the input shape for writing to the audit chain
type AuditEvent struct {
	Actor        Actor
	Action       string
	Resource     Resource
	Origin       Origin
	Status       AuditOutcome
	ErrorCode    string
	ErrorMessage string
	Metadata     map[string]interface{}
}

// ToRecord converts the event into an unsaved record. ID, Timestamp and
// PreviousHash are assigned by storage.
func (e AuditEvent) ToRecord() *AuditRecord {
	status := e.Status
	if status == "" {
		status = OutcomeSuccess
	}
	return &AuditRecord{
		UserID:        e.Actor.UserID,
		UserEmail:     e.Actor.Email,
		UserRole:      e.Actor.Role,
		Action:        e.Action,
		ResourceType:  optionalString(e.Resource.Type),
		ResourceID:    optionalString(e.Resource.ID),
		IPAddress:     optionalString(e.Origin.IPAddress),
		UserAgent:     optionalString(e.Origin.UserAgent),
		RequestMethod: optionalString(e.Origin.Method),
		RequestPath:   optionalString(e.Origin.Path),
		Status:        status,
		ErrorCode:     optionalString(e.ErrorCode),
		ErrorMessage:  optionalString(e.ErrorMessage),
		Metadata:      e.Metadata,
	}
}

// canonicalRecord fixes the field order used for chain hashing. Any change
// here invalidates every existing chain.
type canonicalRecord struct {
	ID            int64                  `json:"id"`
	Timestamp     string                 `json:"timestamp"`
	UserID        *int64                 `json:"userId"`
	UserEmail     *string                `json:"userEmail"`
	UserRole      *string                `json:"userRole"`
	Action        string                 `json:"action"`
	ResourceType  *string                `json:"resourceType"`
	ResourceID    *string                `json:"resourceId"`
	IPAddress     *string                `json:"ipAddress"`
	UserAgent     *string                `json:"userAgent"`
	RequestMethod *string                `json:"requestMethod"`
	RequestPath   *string                `json:"requestPath"`
	Status        string                 `json:"status"`
	ErrorCode     *string                `json:"errorCode"`
	ErrorMessage  *string                `json:"errorMessage"`
	Metadata      map[string]interface{} `json:"metadata"`
	PreviousHash  string                 `json:"previousHash"`
}

// CanonicalBytes returns the order-stable serialization of the record's
// logical fields. Map keys inside metadata are sorted by encoding/json.
func (r *AuditRecord) CanonicalBytes() ([]byte, error) {
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	prev := ""
	if r.PreviousHash != nil {
		prev = *r.PreviousHash
	}
	return json.Marshal(canonicalRecord{
		ID:            r.ID,
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:        r.UserID,
		UserEmail:     r.UserEmail,
		UserRole:      r.UserRole,
		Action:        r.Action,
		ResourceType:  r.ResourceType,
		ResourceID:    r.ResourceID,
		IPAddress:     r.IPAddress,
		UserAgent:     r.UserAgent,
		RequestMethod: r.RequestMethod,
		RequestPath:   r.RequestPath,
		Status:        string(r.Status),
		ErrorCode:     r.ErrorCode,
		ErrorMessage:  r.ErrorMessage,
		Metadata:      metadata,
		PreviousHash:  prev,
	})
}

// ChainHash is the SHA-256 hex digest committed to by the record's successor.
func ChainHash(r *AuditRecord) (string, error) {
	payload, err := r.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

var sensitiveMetadataKeys = []string{"password", "passwd", "pwd", "secret", "token", "credential"}

// StripSensitive returns a copy of metadata without password-like keys.
// Nested maps and slices are cleaned recursively.
func StripSensitive(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if isSensitiveKey(k) {
			continue
		}
		out[k] = stripValue(v)
	}
	return out
}

func stripValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return StripSensitive(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			if !isSensitiveKey(k) {
				out[k] = s
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = stripValue(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(val))
		for i, item := range val {
			out[i] = StripSensitive(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveMetadataKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Issue strings reported by chain verification.
const (
	IssueChainBroken       = "Hash chain broken"
	IssueFirstNotEmpty     = "first entry should have empty previous_hash"
	IssueLegacyNullHash    = "previous_hash is null (written before hash chaining)"
	IssueHashComputeFailed = "unable to compute hash of predecessor"
)

// TamperFinding identifies one record whose link to its predecessor fails
type TamperFinding struct {
	LogID        int64     `json:"logId"`
	Issue        string    `json:"issue"`
	ExpectedHash string    `json:"expectedHash"`
	StoredHash   string    `json:"storedHash"`
	Timestamp    time.Time `json:"timestamp"`
}

// ChainVerification summarizes a full chain walk
type ChainVerification struct {
	IsValid       bool            `json:"isValid"`
	TotalLogs     int             `json:"totalLogs"`
	VerifiedLogs  int             `json:"verifiedLogs"`
	TamperedLogs  []TamperFinding `json:"tamperedLogs"`
	LegacyRecords []TamperFinding `json:"legacyRecords,omitempty"`
	Message       string          `json:"message"`
	VerifiedAt    time.Time       `json:"verifiedAt"`
}

// ChainVerifier re-derives the hash chain from records fed in ascending id order.
type ChainVerifier struct {
	prev   *AuditRecord
	result ChainVerification
}

func NewChainVerifier() *ChainVerifier {
	return &ChainVerifier{result: ChainVerification{TamperedLogs: []TamperFinding{}}}
}

// Add checks one record against its predecessor.
func (v *ChainVerifier) Add(r *AuditRecord) {
	v.result.TotalLogs++
	defer func() { v.prev = r }()

	if v.prev == nil {
		switch {
		case r.PreviousHash == nil:
			v.result.LegacyRecords = append(v.result.LegacyRecords, TamperFinding{
				LogID:     r.ID,
				Issue:     IssueLegacyNullHash,
				Timestamp: r.Timestamp,
			})
			v.result.VerifiedLogs++
		case *r.PreviousHash == "":
			v.result.VerifiedLogs++
		default:
			v.result.TamperedLogs = append(v.result.TamperedLogs, TamperFinding{
				LogID:        r.ID,
				Issue:        IssueFirstNotEmpty,
				ExpectedHash: "",
				StoredHash:   *r.PreviousHash,
				Timestamp:    r.Timestamp,
			})
		}
		return
	}

	stored := ""
	if r.PreviousHash != nil {
		stored = *r.PreviousHash
	}
	expected, err := ChainHash(v.prev)
	if err != nil {
		v.result.TamperedLogs = append(v.result.TamperedLogs, TamperFinding{
			LogID:      r.ID,
			Issue:      IssueHashComputeFailed,
			StoredHash: stored,
			Timestamp:  r.Timestamp,
		})
		return
	}
	if expected != stored {
		v.result.TamperedLogs = append(v.result.TamperedLogs, TamperFinding{
			LogID:        r.ID,
			Issue:        IssueChainBroken,
			ExpectedHash: expected,
			StoredHash:   stored,
			Timestamp:    r.Timestamp,
		})
		return
	}
	v.result.VerifiedLogs++
}

// Result finalizes the verification summary.
func (v *ChainVerifier) Result() ChainVerification {
	res := v.result
	res.VerifiedAt = time.Now().UTC()
	res.IsValid = len(res.TamperedLogs) == 0
	switch {
	case res.TotalLogs == 0:
		res.Message = "No audit logs to verify; empty chain is trivially valid"
	case res.IsValid:
		res.Message = fmt.Sprintf("Audit log chain verified: all %d entries intact", res.TotalLogs)
	default:
		res.Message = fmt.Sprintf("Audit log tampering detected: %d of %d entries failed verification",
			len(res.TamperedLogs), res.TotalLogs)
	}
	return res
}

// ProtectionState is the observed state of one immutability guard
type ProtectionState string

const (
	ProtectionActive  ProtectionState = "ACTIVE"
	ProtectionMissing ProtectionState = "MISSING"
	ProtectionUnknown ProtectionState = "UNKNOWN"
)

// ImmutabilityStatus reports whether storage rejects update/delete of audit rows
type ImmutabilityStatus struct {
	DeleteProtection ProtectionState `json:"deleteProtection"`
	UpdateProtection ProtectionState `json:"updateProtection"`
	IsFullyProtected bool            `json:"isFullyProtected"`
	Message          string          `json:"message"`
}

// NewImmutabilityStatus derives the summary fields from the two guard states.
func NewImmutabilityStatus(deleteState, updateState ProtectionState) ImmutabilityStatus {
	st := ImmutabilityStatus{
		DeleteProtection: deleteState,
		UpdateProtection: updateState,
		IsFullyProtected: deleteState == ProtectionActive && updateState == ProtectionActive,
	}
	switch {
	case st.IsFullyProtected:
		st.Message = "Audit logs are fully protected against modification and deletion"
	case deleteState == ProtectionUnknown || updateState == ProtectionUnknown:
		st.Message = "Unable to determine audit log protection status"
	default:
		st.Message = "Audit logs are NOT fully protected; immutability guards are missing"
	}
	return st
}
