package validator

import "fmt"

// Kind classifies why a descriptor was rejected.
type Kind int

const (
	KindDescriptorMissing Kind = iota + 1
	KindParse
	KindSchema
	KindReferencedFileMissing
)

func (k Kind) String() string {
	switch k {
	case KindDescriptorMissing:
		return "DescriptorMissing"
	case KindParse:
		return "ParseError"
	case KindSchema:
		return "SchemaError"
	case KindReferencedFileMissing:
		return "ReferencedFileMissing"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the single rejection reason produced for a descriptor. Field is
// the descriptor key the failing rule applies to, empty for file-level
// failures.
type Error struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}
