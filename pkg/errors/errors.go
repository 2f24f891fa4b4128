package errors

import "errors"

// Custom error types for better error handling
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUnauthorized       = errors.New("unauthorized access")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")

	// Backend errors
	ErrBackend        = errors.New("backend error")
	ErrRecordNotFound = errors.New("record not found")

	// Local session storage errors. Never returned past the session manager.
	ErrPersistenceFailure = errors.New("session persistence failed")

	// Encryption errors
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidKey       = errors.New("invalid encryption key")

	// Rate limiting errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Backup errors
	ErrBackupFailed = errors.New("backup operation failed")
)

// AppError wraps errors with additional context
type AppError struct {
	Err     error
	Message string
	Code    int
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error
func NewAppError(err error, message string, code int) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// Other reports a backend failure whose text is passed through to the caller
// as is. It matches ErrBackend with errors.Is.
func Other(message string) *AppError {
	if message == "" {
		message = ErrBackend.Error()
	}
	return NewAppError(ErrBackend, message, 502)
}
