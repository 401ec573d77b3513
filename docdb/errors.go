package docdb

import "fmt"

// CorruptEncodingError reports malformed key or value bytes. Decoding never
// guesses: any deviation from the expected framing fails the whole request.
type CorruptEncodingError struct {
	Detail string
}

func (e *CorruptEncodingError) Error() string {
	return fmt.Sprintf("corrupt encoding: %s", e.Detail)
}

func corrupt(detail string) error {
	return &CorruptEncodingError{Detail: detail}
}
