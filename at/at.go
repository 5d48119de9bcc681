package at

const (
	// Terminal Control
	CRLF       = "\r\n"
	Terminator = CRLF
	Prompt     = ">"

	// Stream markers
	CommandPrefix  = "AT"
	ResponseMarker = '+'
	SentenceMarker = '$'

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	READY      = "READY"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg       = "+CMTI:"
	UrcCall         = "RING"
	UrcMQTTConnLost = "+CMQTTCONNLOST:"
	UrcMQTTRxStart  = "+CMQTTRXSTART:"
	UrcMQTTRxTopic  = "+CMQTTRXTOPIC:"
	UrcMQTTRxPayld  = "+CMQTTRXPAYLOAD:"
	UrcMQTTRxEnd    = "+CMQTTRXEND:"
	UrcPowerDown    = "NORMAL POWER DOWN"
	UrcPBDone       = "PB DONE"

	// Commands
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdVerboseErrors = "AT+CMEE=2"
	CmdSimStatus     = "AT+CPIN?"
	CmdSignalQuality = "AT+CSQ"
	CmdGNSSPowerOn   = "AT+CGNSSPWR=1"
	CmdGNSSOutputOn  = "AT+CGNSSTST=1"

	// SIM states reported by +CPIN
	SimReady = "+CPIN: READY"
	SimPin   = "SIM PIN"
)

// BareTokens are the unprefixed final result codes a modem emits on a line
// of their own.
var BareTokens = []string{OK, ERROR, READY, NoCarrier, NoDialtone, Busy, NoAnswer, Prompt}

// SuccessTokens is the acceptance set for plain commands.
var SuccessTokens = []string{OK}

// FailureTokens is the fatal set for plain commands.
var FailureTokens = []string{ERROR, CmeError, CmsError}

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // Payload input prompt
	TypeEcho                       // Command echoed back by the modem
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	case TypeEcho:
		return "echo"
	default:
		return "unknown"
	}
}
