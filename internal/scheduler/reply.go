package scheduler

// ReplyKind tags the payload carried by a Reply.
type ReplyKind int

const (
	// ReplyData carries an encoded frame and is sent as a binary message.
	ReplyData ReplyKind = iota
	// ReplyError carries error text and is sent as a text message.
	ReplyError
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyData:
		return "data"
	case ReplyError:
		return "error"
	default:
		return "unknown"
	}
}

// Reply is the single outcome delivered to a connection for a submission.
type Reply struct {
	Kind ReplyKind
	Data []byte
	Text string
}

// DataReply wraps an encoded frame.
func DataReply(frame []byte) Reply {
	return Reply{Kind: ReplyData, Data: frame}
}

// ErrorReply wraps error text.
func ErrorReply(text string) Reply {
	return Reply{Kind: ReplyError, Text: text}
}

// Conn is the delivery target for replies. Implementations serialize their own
// writes; Deliver may be called from any goroutine.
type Conn interface {
	ID() string
	Deliver(Reply) error
}
