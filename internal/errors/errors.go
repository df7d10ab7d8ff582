package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Kind classifies failures of credential synchronization and device dispatch.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound means an id or name is absent from the credential cache.
	KindNotFound
	// KindAlreadyExists means a create or rename would duplicate a name.
	KindAlreadyExists
	// KindStoreWriteFailed means the secret store rejected a set or delete
	// and the cache was restored to its previous state.
	KindStoreWriteFailed
	// KindPartialFailure means the cache and the store may have diverged, or a
	// multi-step operation stopped halfway.
	KindPartialFailure
	KindInvalidConnectionDescriptor
	KindDeviceNotRegistered
	KindDeviceTimeout
	KindDeviceUnreachable
	KindResponseParseFailure
	// KindReservedName means a name falls under the prefix reserved for
	// device configuration keys.
	KindReservedName
)

var kindNames = map[Kind]string{
	KindUnknown:                     "unknown",
	KindNotFound:                    "not_found",
	KindAlreadyExists:               "already_exists",
	KindStoreWriteFailed:            "store_write_failed",
	KindPartialFailure:              "partial_failure",
	KindInvalidConnectionDescriptor: "invalid_connection_descriptor",
	KindDeviceNotRegistered:         "device_not_registered",
	KindDeviceTimeout:               "device_timeout",
	KindDeviceUnreachable:           "device_unreachable",
	KindResponseParseFailure:        "response_parse_failure",
	KindReservedName:                "reserved_name",
}

// String returns the snake_case label used in logs and metrics.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message returns the operator-facing text reported by the send endpoint.
func (k Kind) Message() string {
	switch k {
	case KindNotFound:
		return "ERROR: Item not found"
	case KindAlreadyExists:
		return "ERROR: Name already exists"
	case KindStoreWriteFailed:
		return "ERROR: Secret store write failed"
	case KindPartialFailure:
		return "ERROR: Item only partially loaded"
	case KindInvalidConnectionDescriptor:
		return "ERROR: Invalid Iot Hub Service Connection String"
	case KindDeviceNotRegistered:
		return "ERROR: Device not registered in IoT Hub"
	case KindDeviceTimeout:
		return "ERROR: Timeout connecting device"
	case KindDeviceUnreachable:
		return "ERROR: Device not found"
	case KindResponseParseFailure:
		return "ERROR: Response parsing failed"
	case KindReservedName:
		return "ERROR: Name is reserved"
	default:
		return "ERROR: Unexpected failure"
	}
}

// SyncError is the typed result of a failed engine or dispatch operation.
type SyncError struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *SyncError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ReplaceAll(e.Kind.String(), "_", " "))
	if e.Key != "" {
		fmt.Fprintf(&b, " (%s)", e.Key)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a SyncError of the same kind, so callers can
// write errors.Is(err, errors.ErrNotFound).
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Key == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound                    = &SyncError{Kind: KindNotFound}
	ErrAlreadyExists               = &SyncError{Kind: KindAlreadyExists}
	ErrStoreWriteFailed            = &SyncError{Kind: KindStoreWriteFailed}
	ErrPartialFailure              = &SyncError{Kind: KindPartialFailure}
	ErrInvalidConnectionDescriptor = &SyncError{Kind: KindInvalidConnectionDescriptor}
	ErrDeviceNotRegistered         = &SyncError{Kind: KindDeviceNotRegistered}
	ErrDeviceTimeout               = &SyncError{Kind: KindDeviceTimeout}
	ErrDeviceUnreachable           = &SyncError{Kind: KindDeviceUnreachable}
	ErrResponseParseFailure        = &SyncError{Kind: KindResponseParseFailure}
	ErrReservedName                = &SyncError{Kind: KindReservedName}
)

// New builds a SyncError.
func New(kind Kind, op, key string, err error) error {
	return &SyncError{Kind: kind, Op: op, Key: key, Err: err}
}

// KindOf extracts the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// StoreError enhances secret store errors with context for the CLI
func StoreError(store string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s store error during %s", store, operation),
		Suggestion: getStoreSuggestion(store, err),
		Err:        err,
	}
}

// getStoreSuggestion returns helpful suggestions based on store and error
func getStoreSuggestion(store string, err error) string {
	errStr := err.Error()

	switch store {
	case "azure.keyvault":
		if strings.Contains(errStr, "403") || strings.Contains(errStr, "Forbidden") {
			return "Check Key Vault access policies: Get, List, Set and Delete permissions are required for secrets (Purge and Recover to reuse deleted names)"
		}
		if strings.Contains(errStr, "401") {
			return "Check authentication: verify managed identity, service principal, or 'az login'"
		}
		if strings.Contains(errStr, "timed out waiting") || strings.Contains(errStr, "409") {
			return "A deleted secret with this name has not finished purging or recovering. Try again shortly"
		}

	case "aws.secretsmanager", "aws.ssm":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for the secret store operations"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}

	case "gcp.secretmanager":
		if strings.Contains(errStr, "PermissionDenied") {
			return "Grant roles/secretmanager.admin or a narrower custom role to the caller"
		}

	case "keychain":
		if strings.Contains(errStr, "dbus") || strings.Contains(errStr, "secret service") {
			return "Start a Secret Service implementation (gnome-keyring, KWallet) or use another store type"
		}
	}

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection or raise store.timeout_ms"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and store configuration"
	}

	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	var se *SyncError
	if errors.As(err, &se) {
		suggestion := ""
		switch se.Kind {
		case KindNotFound:
			suggestion = "Run 'keyrelay list' to see available items"
		case KindAlreadyExists:
			suggestion = "Choose another name or edit the existing item"
		case KindPartialFailure:
			suggestion = "Inspect the secret store; the cache and the store may disagree until 'keyrelay list' reloads"
		case KindInvalidConnectionDescriptor:
			suggestion = "Set a valid connection string with 'keyrelay config set --connection-string'"
		case KindDeviceNotRegistered:
			suggestion = "Check the device name with 'keyrelay config show'"
		case KindReservedName:
			suggestion = "Names starting with config_keys.prefix hold device configuration; choose another name"
		}
		return UserError{
			Message:    se.Kind.Message(),
			Details:    se.Error(),
			Suggestion: suggestion,
			Err:        err,
		}
	}

	return err
}
