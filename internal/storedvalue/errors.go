package storedvalue

import "errors"

var (
	// ErrInsufficientBalance occurs when the available balance cannot cover a
	// requested redemption or downward adjustment. Never auto-retried.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount rejects non-positive amounts before any transaction opens.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrCurrencyMismatch rejects operations whose currency differs from the account's.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrMissingIdentifier rejects redemptions that name neither an account nor a code.
	ErrMissingIdentifier = errors.New("account id or code required")

	// ErrAccountNotFound indicates an unknown account identifier.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCodeNotFound indicates an unknown redemption code.
	ErrCodeNotFound = errors.New("code not found")

	// ErrHoldNotFound indicates an unknown hold identifier.
	ErrHoldNotFound = errors.New("hold not found")

	// ErrHoldNotOpen occurs when capturing or releasing a hold that already
	// reached a terminal state. Safe to retry only after inspecting the hold.
	ErrHoldNotOpen = errors.New("hold not open")

	// ErrHoldExpired occurs when capturing a hold past its TTL.
	ErrHoldExpired = errors.New("hold expired")

	// ErrPINRequired occurs when redeeming a PIN-protected code without a PIN.
	ErrPINRequired = errors.New("PIN required")

	// ErrInvalidPIN occurs when the supplied PIN does not verify.
	ErrInvalidPIN = errors.New("invalid PIN")

	// ErrPINFormat rejects caller-supplied PINs outside the accepted shape.
	ErrPINFormat = errors.New("PIN must be 4 to 8 digits")

	// ErrAccountNotActive occurs when operating on an expired or otherwise
	// inactive account.
	ErrAccountNotActive = errors.New("stored value account not active")

	// ErrCodeExists indicates a redemption code collision on issue.
	ErrCodeExists = errors.New("code already exists")
)
