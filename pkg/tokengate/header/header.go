// Package header extracts a candidate token from an inbound request.
//
// The credential travels as "<Header>: <Keyword> <token>" with exactly one
// space after a case-sensitive keyword. No other transport is read.
package header

import (
	"net/http"
	"strings"
)

const (
	DefaultHeader = "Authorization"

	// KeywordAccessToken is the scheme keyword for personal access tokens.
	KeywordAccessToken = "Access-Token"
	// KeywordAPIKey is the scheme keyword used by the API key skin.
	KeywordAPIKey = "Api-Key"
)

// ParseError reports a credential header that is present but malformed.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return e.Msg
}

var (
	errInvalidHeader   = &ParseError{Msg: "Invalid header"}
	errInvalidAuthType = &ParseError{Msg: "Invalid authentication type"}
)

// Parser reads one credential scheme from one header.
type Parser struct {
	Header  string
	Keyword string

	// SharedHeader lets other schemes use the same header: a value with a
	// different keyword is ignored instead of rejected.
	SharedHeader bool
}

// NewParser returns a parser with the default header and keyword filled in for
// empty arguments.
func NewParser(headerName, keyword string, shared bool) *Parser {
	if headerName == "" {
		headerName = DefaultHeader
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		keyword = KeywordAccessToken
	}
	return &Parser{Header: headerName, Keyword: keyword, SharedHeader: shared}
}

// Parse returns the candidate token and true when the request carries one.
// It returns false and no error when no credential is offered for this
// scheme, and a *ParseError when the header is present but malformed.
func (p *Parser) Parse(r *http.Request) (string, bool, error) {
	values, present := r.Header[http.CanonicalHeaderKey(p.Header)]
	if !present {
		return "", false, nil
	}

	var value string
	if len(values) > 0 {
		value = values[0]
	}
	if value == "" {
		return "", false, errInvalidHeader
	}

	prefix := p.keyword() + " "
	if !strings.HasPrefix(value, prefix) {
		if p.SharedHeader {
			return "", false, nil
		}
		return "", false, errInvalidAuthType
	}

	_, token, _ := strings.Cut(value, prefix)
	return token, true, nil
}

// Challenge returns the value for a WWW-Authenticate response header.
func (p *Parser) Challenge() string {
	return p.keyword()
}

func (p *Parser) keyword() string {
	return strings.TrimSpace(p.Keyword)
}
