package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrInvalidConfig is returned by Build and New for out-of-range pool,
	// channel or pacing settings.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has no link.
	//
	// This can occur if the Dialer returned neither a link nor an error, or if
	// the Modem was not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by operations on a closed Modem.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while it is already
	// running or has already run.
	ErrLoopRunning = errors.New("loop already running")

	// ErrLoopNotRunning is returned when a command is issued before Loop has
	// been started; without the loop no response could ever be seen.
	ErrLoopNotRunning = errors.New("loop not running")

	// ErrTransactionBusy is returned when a command is issued while another
	// is still awaiting its response.
	//
	// The link is half-duplex for commands, so requests are never queued.
	// Callers should retry later.
	ErrTransactionBusy = errors.New("transaction in progress")

	// ErrStopped is returned together with a TimedOut outcome when the
	// pipeline shuts down while a command is pending or is issued after
	// shutdown.
	ErrStopped = errors.New("pipeline stopped")

	// ErrNoAcceptTokens is returned when a command is issued without any
	// acceptance token, which could never resolve as matched.
	ErrNoAcceptTokens = errors.New("no acceptance tokens")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry initialization.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrTimeout is returned by the convenience helpers when a command
	// resolves as TimedOut.
	//
	// Timeouts are often transient radio conditions; the bring-up sequence
	// retries them with backoff.
	ErrTimeout = errors.New("command timed out")

	// ErrFatalResponse is returned by the convenience helpers when a command
	// resolves with a fatal token such as ERROR or +CME ERROR.
	ErrFatalResponse = errors.New("command failed")

	// ErrUnexpectedResponse is returned when a matched response cannot be
	// parsed.
	ErrUnexpectedResponse = errors.New("unexpected response")
)
